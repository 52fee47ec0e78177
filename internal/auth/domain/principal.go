package domain

import "time"

// PrincipalStatus is the account state of a principal.
type PrincipalStatus string

const (
	StatusActive   PrincipalStatus = "active"
	StatusInactive PrincipalStatus = "inactive"
)

// Principal is an immutable snapshot of a user account as embedded in access
// tokens. The user store is the source of truth; tokens carry the snapshot
// taken at issuance time.
type Principal struct {
	ID           int64
	Name         string
	Email        string
	Role         string
	Status       PrincipalStatus
	PasswordHash string // argon2id PHC encoded
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the principal may authenticate.
func (p Principal) IsActive() bool { return p.Status == StatusActive }
