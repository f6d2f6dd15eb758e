package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity core.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RefreshTokens() RefreshTokenStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByPhone(ctx context.Context, phone string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status string) error
}

// RoleStore manages roles and user assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	Assign(ctx context.Context, userID, roleID string) error
	NamesForUser(ctx context.Context, userID string) ([]string, error)
	SetPermissions(ctx context.Context, roleID string, permissionIDs []string) error
}

// PermissionStore manages the permission catalog with direct set-lookup
// queries instead of association traversal.
type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	List(ctx context.Context) ([]Permission, error)
	ListForRole(ctx context.Context, roleID string) ([]Permission, error)
	ListForUser(ctx context.Context, userID string) ([]Permission, error)
}

// RefreshTokenStore is the refresh-token ledger. It exclusively owns
// RefreshToken rows.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error

	// FindActive distinguishes a row that never existed (ErrTokenNotFound),
	// one that exists but is revoked (ErrTokenRevoked), and one past its
	// expiry even if not yet swept (ErrTokenExpired).
	FindActive(ctx context.Context, tokenValue string) (*RefreshToken, error)

	// Rotate atomically revokes the row matching oldValue and persists next.
	// The revocation is a compare-and-set on is_revoked: when two rotations
	// race on one token exactly one wins, the loser gets ErrTokenRevoked.
	Rotate(ctx context.Context, oldValue string, next *RefreshToken) error

	// Revoke marks the matching row revoked; missing rows are a no-op.
	Revoke(ctx context.Context, tokenValue string) error

	// RevokeAll revokes every non-revoked row for the user and reports how
	// many were affected.
	RevokeAll(ctx context.Context, userID string) (int64, error)

	// Sweep deletes rows that are expired or already revoked.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}
