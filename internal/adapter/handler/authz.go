package handler

import (
	"fmt"
	"log/slog"

	"github.com/rl1809/folk-trade/internal/core/access"
	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

const (
	actionOrdersRead  = "orders:read"
	actionOrdersWrite = "orders:write"
)

// authorize runs the access check for claims and returns a forbidden error
// when it is denied.
func authorize(logger *slog.Logger, claims *port.TokenClaims, action, resource string, ownerID int64, reason string) error {
	decision := access.Check(logger, access.Request{
		Role:     claims.Role,
		Action:   action,
		Resource: resource,
		IsOwner:  ownerID != 0 && ownerID == claims.UserID,
		Reason:   reason,
	})
	if decision.Allowed {
		return nil
	}
	return &domain.Error{
		Kind:    domain.KindForbidden,
		Message: "insufficient permissions",
		Details: map[string]string{"permission": decision.Permission},
	}
}

func userResource(id int64) string  { return fmt.Sprintf("user:%d", id) }
func orderResource(id int64) string { return fmt.Sprintf("order:%d", id) }
