package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/docchat/internal/core/domain"
	"github.com/custodia-labs/docchat/internal/core/ports/driven"
)

// Ensure Adapter implements AuthAdapter
var _ driven.AuthAdapter = (*Adapter)(nil)

// Issuer is stamped into and required on every token
const Issuer = "docchat"

// jwtClaims wraps domain.TokenClaims for JWT compatibility
type jwtClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Adapter signs and verifies HS256 bearer tokens
type Adapter struct {
	jwtSecret []byte
	parser    *jwt.Parser
}

// NewAdapter creates a new auth adapter with the given JWT secret
func NewAdapter(jwtSecret string) *Adapter {
	return &Adapter{
		jwtSecret: []byte(jwtSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// NewClaims builds claims for userID valid for ttl from now
func NewClaims(userID, email string, ttl time.Duration) *domain.TokenClaims {
	now := time.Now()
	return &domain.TokenClaims{
		UserID:    userID,
		Email:     email,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// GenerateToken creates a signed JWT from domain claims
func (a *Adapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims == nil || claims.UserID == "" {
		return "", fmt.Errorf("%w: token needs a user id", domain.ErrInvalidInput)
	}

	jc := jwtClaims{
		UserID: claims.UserID,
		Email:  claims.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, jc).SignedString(a.jwtSecret)
}

// ParseToken validates a JWT and extracts domain claims.
// Fails with domain.ErrTokenExpired or domain.ErrTokenInvalid.
func (a *Adapter) ParseToken(tokenString string) (*domain.TokenClaims, error) {
	token, err := a.parser.ParseWithClaims(tokenString, &jwtClaims{}, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, domain.ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, domain.ErrTokenInvalid
	}

	tc := &domain.TokenClaims{
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}
	if claims.IssuedAt != nil {
		tc.IssuedAt = claims.IssuedAt.Unix()
	}
	return tc, nil
}
