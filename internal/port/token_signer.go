package port

import (
	"time"

	"github.com/rl1809/folk-trade/internal/core/domain"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// TokenClaims is the payload embedded in both access and refresh tokens.
type TokenClaims struct {
	UserID  int64
	Email   string
	Role    domain.Role
	Version int
	Type    TokenType
}

type TokenSigner interface {
	Sign(claims TokenClaims, ttl time.Duration) (string, error)

	// Verify checks signature, expiry and token type.
	Verify(token string, typ TokenType) (*TokenClaims, error)
}
