package auth

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the key type for context values.
type ContextKey string

// UserContextKey is the context key under which middleware stores the
// resolved identity.
const UserContextKey ContextKey = "user"

// Roles. The tracker only distinguishes operators (may cancel and run
// maintenance sweeps) from viewers.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// UserContext is the resolved identity attached to each request. The
// tracker treats it as opaque apart from the role gate; it exists for
// authorization and audit attribution.
type UserContext struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
}

// CanOperate reports whether the identity may mutate workflows.
func (u *UserContext) CanOperate() bool {
	return u.Role == RoleOperator
}

// FromContext extracts the identity placed by the middleware.
func FromContext(ctx context.Context) (*UserContext, bool) {
	u, ok := ctx.Value(UserContextKey).(*UserContext)
	return u, ok
}
