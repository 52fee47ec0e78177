package store

import (
	"context"
	"errors"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today,
// postgres later) implement this. Sub-repositories keep concerns tidy and
// testable.
type Store interface {
	Principals() Principals
	RefreshTokens() RefreshTokens
	ActivityLog() ActivityLog

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back if fn returns an
	// error and committing otherwise. This is the recommended way to run
	// multi-step operations that must be atomic (e.g. refresh rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Principals is the user-store collaborator. User management itself lives in
// the wider application; the auth subsystem only reads accounts and seeds the
// first admin.
type Principals interface {
	// GetByID returns a principal by id.
	GetByID(ctx context.Context, id int64) (domain.Principal, error)

	// GetByEmail is used during login.
	GetByEmail(ctx context.Context, email string) (domain.Principal, error)

	// Create inserts a new principal and returns its assigned id.
	Create(ctx context.Context, p domain.Principal) (int64, error)

	// SetStatus mutates the account status and bumps updated_at.
	SetStatus(ctx context.Context, id int64, status domain.PrincipalStatus) error

	// IsEmpty returns true if there are no principals (bootstrap check).
	IsEmpty(ctx context.Context) (bool, error)
}

type RefreshTokens interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, t domain.RefreshToken) error

	// GetByHash returns the token by its fingerprint.
	GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// Revoke claims the token: it flips revoked only if it was not already
	// revoked, recording the revocation metadata. The boolean reports whether
	// this call performed the revocation; under two concurrent rotations of
	// the same token exactly one caller sees true.
	Revoke(ctx context.Context, hash, byIP, replacedByHash string, at time.Time) (bool, error)

	// RevokeAllForUser bulk-revokes every live token for a user (reuse
	// detection, logout from all devices).
	RevokeAllForUser(ctx context.Context, userID int64, byIP string, at time.Time) error

	// DeleteExpired is periodic housekeeping.
	DeleteExpired(ctx context.Context) error
}

// ActivityLog is the fire-and-forget audit sink's persistence.
type ActivityLog interface {
	Insert(ctx context.Context, e domain.ActivityEvent) error

	// DeleteOlderThan is periodic housekeeping.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}
