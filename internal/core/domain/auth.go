package domain

// AuthContext identifies the authenticated caller of a request
type AuthContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}
