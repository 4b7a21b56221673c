package auth

import (
	"github.com/google/uuid"

	"taskflow/internal/model"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID  uuid.UUID  `json:"user_id"`
	Email   string     `json:"email"`
	Role    model.Role `json:"role"`
	TokenID string     `json:"-"`
}

// System is the principal used by background jobs acting on behalf of the platform.
var System = Principal{Role: model.RoleAdmin}

// IsSystem reports whether p is the background job principal.
func (p Principal) IsSystem() bool {
	return p.UserID == uuid.Nil && p.Role == model.RoleAdmin
}

// Authorized reports whether role is in allowed. An empty allow-list admits any valid role.
func Authorized(role model.Role, allowed ...model.Role) bool {
	if !role.Valid() {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// SignInPath is where unauthenticated callers are sent.
const SignInPath = "/signin"

// HomePath returns the landing area for role, used when a caller hits another role's area.
func HomePath(role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return "/admin"
	case model.RoleEmployer:
		return "/employer"
	case model.RoleWorker:
		return "/worker"
	default:
		return "/"
	}
}
