package driven

import "github.com/custodia-labs/docchat/internal/core/domain"

// AuthAdapter handles token cryptographic operations.
// Users and their credentials live with an external identity provider.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
