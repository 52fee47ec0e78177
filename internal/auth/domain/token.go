package domain

import "time"

// TokenPair is what the login and refresh endpoints return: the short-lived
// access token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration // access token lifetime
	Principal    Principal
}

// RefreshToken models the stored refresh token record. Only the SHA-256
// fingerprint of the opaque value is persisted. Rotation links the consumed
// token to its successor via ReplacedByHash, forming a linear chain.
type RefreshToken struct {
	ID             string // ULID
	UserID         int64
	TokenHash      string // fingerprint (base64url SHA-256)
	ExpiresAt      time.Time
	CreatedAt      time.Time
	CreatedByIP    string
	Revoked        bool
	RevokedAt      *time.Time
	RevokedByIP    string
	ReplacedByHash string
}

// Expired reports whether the token is past its natural expiry at the given
// instant.
func (t RefreshToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }
