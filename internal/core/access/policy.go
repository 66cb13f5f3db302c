// Package access decides whether a role may perform an action. Decisions
// are pure table lookups; the only side effect is one audit log record.
package access

import (
	"log/slog"
	"slices"

	"github.com/rl1809/folk-trade/internal/core/domain"
)

const (
	wildcard  = "*"
	ownSuffix = ":own"
)

var rolePermissions = map[domain.Role][]string{
	domain.RoleAdmin: {wildcard},
	domain.RoleArtist: {
		"orders:read:own",
		"orders:write:own",
		"tasks:read",
		"tasks:write",
		"projects:read",
		"users:read:own",
	},
	domain.RoleUser: {
		"orders:read:own",
		"orders:write:own",
		"tasks:read",
		"projects:read",
		"users:read:own",
	},
	domain.RoleGuest: {},
}

type Request struct {
	Role     domain.Role
	Action   string
	Resource string
	// IsOwner selects the ":own" variant of the permission.
	IsOwner bool
	Reason  string
}

type Decision struct {
	Allowed    bool
	Permission string
}

// Check resolves the permission string for req and reports whether the
// role holds it. A nil logger uses slog.Default.
func Check(logger *slog.Logger, req Request) Decision {
	permission := req.Action
	if req.IsOwner {
		permission += ownSuffix
	}

	granted := rolePermissions[req.Role]
	allowed := slices.Contains(granted, wildcard) || slices.Contains(granted, permission)

	audit(logger, req, permission, allowed)
	return Decision{Allowed: allowed, Permission: permission}
}

// Permissions lists what role is granted. Unknown roles get nothing.
func Permissions(role domain.Role) []string {
	return slices.Clone(rolePermissions[role])
}

func audit(logger *slog.Logger, req Request, permission string, allowed bool) {
	if logger == nil {
		logger = slog.Default()
	}
	decision := "DENIED"
	if allowed {
		decision = "ALLOWED"
	}
	resource := req.Resource
	if resource == "" {
		resource = "n/a"
	}
	attrs := []any{
		"role", string(req.Role),
		"permission", permission,
		"resource", resource,
		"decision", decision,
	}
	if req.Reason != "" {
		attrs = append(attrs, "reason", req.Reason)
	}
	logger.Info("rbac decision", attrs...)
}
