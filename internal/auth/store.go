package auth

import (
	"context"
	"time"
)

// UserStore persists users. Email lookups are case-insensitive.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)
	SetUserStatus(ctx context.Context, id, status string) (User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	// DeleteUserCascade removes the user's sessions and then the user in one
	// transaction; if either step fails nothing is deleted. A non-nil
	// beforeCommit runs after both deletes and before commit; its error rolls
	// the whole unit back.
	DeleteUserCascade(ctx context.Context, id string, beforeCommit func(context.Context) error) error
}

// UserFilter narrows ListUsers. Zero values mean "any".
type UserFilter struct {
	VesselID string
	Role     Role
	Status   string
}

// SessionStore persists sessions. Implementations never filter on expiry;
// the Sessions service checks it on every read.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	FindSession(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// RegistryStore persists role definitions and the permission catalog.
type RegistryStore interface {
	EnsurePermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	// CreateRole inserts the role and links the permissions whose ids exist;
	// unknown ids are skipped.
	CreateRole(ctx context.Context, name, description string, permissionIDs []string) (RoleDefinition, error)
	ListRoles(ctx context.Context) ([]RoleDefinition, error)
	GetRoleByName(ctx context.Context, name string) (RoleDefinition, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (RoleDefinition, error)
	DeleteRole(ctx context.Context, roleID string) error
}
