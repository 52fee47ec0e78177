// Package revocation tracks access tokens and users whose credentials must
// stop being trusted before their natural expiry.
//
// Entries are only held for the remaining lifetime of the tokens they revoke;
// after that, ordinary expiry takes over and the entry is swept. Two kinds of
// entry exist: per-token (keyed by the token's signature segment) and
// per-user (a marker revoking every token issued at or before the marker).
package revocation

import (
	"context"
	"time"
)

// Check carries the identifying parts of an access token needed to decide
// whether it has been revoked.
type Check struct {
	// Signature is the signature segment of the compact token.
	Signature string

	// UserID is the token's subject.
	UserID int64

	// IssuedAt is the token's iat claim. A user-level marker revokes tokens
	// issued at or before the marker time, so tokens minted after a
	// revoke-all remain valid.
	IssuedAt time.Time
}

// Store is the server-side revocation registry. Implementations must be safe
// under concurrent reads and writes from many validation calls, and a revoke
// that completed must be visible to subsequent reads.
//
// Callers treat any error from IsRevoked as "not valid" (fail closed).
type Store interface {
	// RevokeToken blacklists a single token signature until its expiry.
	RevokeToken(ctx context.Context, signature string, expiresAt time.Time) error

	// RevokeAllForUser marks every currently outstanding token of the user
	// as revoked, regardless of individual signatures.
	RevokeAllForUser(ctx context.Context, userID int64) error

	// IsRevoked reports whether the described token must be rejected.
	IsRevoked(ctx context.Context, c Check) (bool, error)

	// Sweep removes entries whose retention window has passed. Backends with
	// native key expiry may implement it as a no-op.
	Sweep(ctx context.Context) error
}
