package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minPasswordLength = 8
)

type SessionConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RevokeOnLogout bumps the refresh-token version on logout so the
	// presented refresh token cannot be reused.
	RevokeOnLogout bool
	BcryptCost     int
}

// Session is a freshly issued token pair.
type Session struct {
	User         domain.User
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	// PreviousVersion is the version the pair was rotated from.
	PreviousVersion int
}

type SignupRequest struct {
	Name     string
	Email    string
	Password string
}

type SessionService struct {
	users  port.UserRepository
	signer port.TokenSigner
	cfg    SessionConfig
	logger *slog.Logger
}

func NewSessionService(users port.UserRepository, signer port.TokenSigner, cfg SessionConfig, logger *slog.Logger) *SessionService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &SessionService{
		users:  users,
		signer: signer,
		cfg:    cfg,
		logger: resolveLogger(logger),
	}
}

func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.NewUnauthenticatedError("invalid email or password", nil)
	}
	if err != nil {
		return nil, s.persistenceFailure("load user failed", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logger.Info("login rejected", "user_id", user.ID, "reason", "password mismatch")
		return nil, domain.NewUnauthenticatedError("invalid email or password", nil)
	}

	updated, err := s.users.BumpTokenVersion(ctx, user.ID, port.AnyVersion)
	if err != nil {
		return nil, s.persistenceFailure("bump token version failed", err)
	}

	session, err := s.issue(*updated, user.RefreshTokenVersion)
	if err != nil {
		return nil, err
	}
	s.logger.Info("login succeeded", "user_id", updated.ID, "version", updated.RefreshTokenVersion)
	return session, nil
}

// Refresh rotates a refresh token. Each refresh token is single-use: its
// version must equal the stored version, which is then incremented.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, domain.NewUnauthenticatedError("refresh token missing", nil)
	}
	claims, err := s.signer.Verify(refreshToken, port.TokenRefresh)
	if err != nil {
		return nil, domain.NewUnauthenticatedError("invalid refresh token", err)
	}

	user, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.NewUnauthenticatedError("invalid refresh token", err)
	}
	if err != nil {
		return nil, s.persistenceFailure("load user failed", err)
	}
	if user.RefreshTokenVersion != claims.Version {
		return nil, s.versionMismatch(claims, user.RefreshTokenVersion)
	}

	updated, err := s.users.BumpTokenVersion(ctx, user.ID, claims.Version)
	if errors.Is(err, port.ErrVersionConflict) {
		return nil, s.versionMismatch(claims, -1)
	}
	if err != nil {
		return nil, s.persistenceFailure("bump token version failed", err)
	}

	return s.issue(*updated, claims.Version)
}

// VerifyAccess checks an access token statelessly.
func (s *SessionService) VerifyAccess(accessToken string) (*port.TokenClaims, error) {
	if accessToken == "" {
		return nil, domain.NewUnauthenticatedError("access token missing", nil)
	}
	claims, err := s.signer.Verify(accessToken, port.TokenAccess)
	if err != nil {
		return nil, domain.NewUnauthenticatedError("invalid or expired access token", err)
	}
	return claims, nil
}

// Logout revokes the presented refresh token when RevokeOnLogout is set.
// Otherwise it has no server-side effect; callers clear the cookies.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if !s.cfg.RevokeOnLogout || refreshToken == "" {
		return nil
	}
	claims, err := s.signer.Verify(refreshToken, port.TokenRefresh)
	if err != nil {
		return nil
	}

	_, err = s.users.BumpTokenVersion(ctx, claims.UserID, claims.Version)
	switch {
	case err == nil:
		s.logger.Info("refresh token revoked on logout", "user_id", claims.UserID, "version", claims.Version)
		return nil
	case errors.Is(err, port.ErrVersionConflict), errors.Is(err, port.ErrNotFound):
		return nil
	default:
		return s.persistenceFailure("revoke refresh token failed", err)
	}
}

func (s *SessionService) Signup(ctx context.Context, req SignupRequest) (*domain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var fields []domain.FieldError
	if req.Name == "" {
		fields = append(fields, domain.FieldError{Field: "name", Message: "is required"})
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		fields = append(fields, domain.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if len(req.Password) < minPasswordLength {
		fields = append(fields, domain.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if len(fields) > 0 {
		return nil, domain.NewValidationError(fields...)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, s.persistenceFailure("hash password failed", err)
	}

	user := &domain.User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         domain.RoleUser,
		PasswordHash: string(hash),
	}
	err = s.users.CreateUser(ctx, user)
	if errors.Is(err, port.ErrDuplicateEmail) {
		return nil, domain.NewValidationError(domain.FieldError{Field: "email", Message: "is already registered"})
	}
	if err != nil {
		return nil, s.persistenceFailure("create user failed", err)
	}
	s.logger.Info("user signed up", "user_id", user.ID)
	return user, nil
}

func (s *SessionService) Me(ctx context.Context, claims *port.TokenClaims) (*domain.User, error) {
	user, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.NewMissingResourceError("user not found", map[string]int64{"userId": claims.UserID})
	}
	if err != nil {
		return nil, s.persistenceFailure("load user failed", err)
	}
	return user, nil
}

func (s *SessionService) issue(user domain.User, previous int) (*Session, error) {
	claims := port.TokenClaims{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    user.Role,
		Version: user.RefreshTokenVersion,
	}

	claims.Type = port.TokenAccess
	access, err := s.signer.Sign(claims, s.cfg.AccessTTL)
	if err != nil {
		return nil, s.persistenceFailure("sign access token failed", err)
	}
	claims.Type = port.TokenRefresh
	refresh, err := s.signer.Sign(claims, s.cfg.RefreshTTL)
	if err != nil {
		return nil, s.persistenceFailure("sign refresh token failed", err)
	}

	return &Session{
		User:            user,
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessTTL:       s.cfg.AccessTTL,
		RefreshTTL:      s.cfg.RefreshTTL,
		PreviousVersion: previous,
	}, nil
}

func (s *SessionService) versionMismatch(claims *port.TokenClaims, stored int) error {
	s.logger.Warn("refresh token version mismatch",
		"user_id", claims.UserID,
		"token_version", claims.Version,
		"stored_version", stored,
	)
	return &domain.Error{
		Kind:    domain.KindUnauthenticated,
		Message: "refresh token expired or rotated",
		Err:     domain.ErrVersionMismatch,
	}
}

func (s *SessionService) persistenceFailure(op string, err error) error {
	s.logger.Error(op, "error", err)
	return domain.NewPersistenceError(op, err)
}
