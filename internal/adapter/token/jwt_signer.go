// Package token signs and verifies the HMAC JWTs handed out as session
// cookies.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

const issuer = "folk-trade"

var (
	ErrTokenType = errors.New("unexpected token type")
	ErrTokenRole = errors.New("unknown role")
)

type claims struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Version int    `json:"ver"`
	Type    string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTSigner signs access and refresh tokens with separate secrets, so a
// token of one type never verifies as the other.
type JWTSigner struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewJWTSigner(accessSecret, refreshSecret string) *JWTSigner {
	return &JWTSigner{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

func (s *JWTSigner) secret(typ port.TokenType) ([]byte, error) {
	switch typ {
	case port.TokenAccess:
		return s.accessSecret, nil
	case port.TokenRefresh:
		return s.refreshSecret, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrTokenType, typ)
}

func (s *JWTSigner) Sign(c port.TokenClaims, ttl time.Duration) (string, error) {
	key, err := s.secret(c.Type)
	if err != nil {
		return "", err
	}

	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email:   c.Email,
		Role:    string(c.Role),
		Version: c.Version,
		Type:    string(c.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(c.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return tok.SignedString(key)
}

func (s *JWTSigner) Verify(raw string, typ port.TokenType) (*port.TokenClaims, error) {
	key, err := s.secret(typ)
	if err != nil {
		return nil, err
	}

	var parsed claims
	_, err = jwt.ParseWithClaims(raw, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if parsed.Type != string(typ) {
		return nil, fmt.Errorf("%w: %q", ErrTokenType, parsed.Type)
	}

	role := domain.Role(parsed.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrTokenRole, parsed.Role)
	}

	userID, err := strconv.ParseInt(parsed.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return &port.TokenClaims{
		UserID:  userID,
		Email:   parsed.Email,
		Role:    role,
		Version: parsed.Version,
		Type:    typ,
	}, nil
}
