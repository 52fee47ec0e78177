package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is a single-process Store backed by maps. Suited to single-instance
// deployments; multi-instance deployments should use Redis so all instances
// observe the same revocations.
type Memory struct {
	// MarkerTTL bounds how long user-level markers are retained. It should
	// match the access token TTL: once every token issued before the marker
	// has expired naturally, the marker is dead weight.
	MarkerTTL time.Duration

	mu     sync.RWMutex
	tokens map[string]time.Time // signature -> token expiry
	users  map[int64]time.Time  // user id -> marker time
}

// NewMemory returns an empty in-memory revocation store.
func NewMemory(markerTTL time.Duration) *Memory {
	return &Memory{
		MarkerTTL: markerTTL,
		tokens:    make(map[string]time.Time),
		users:     make(map[int64]time.Time),
	}
}

func (m *Memory) RevokeToken(ctx context.Context, signature string, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return nil // already expired, nothing to retain
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[signature] = expiresAt
	return nil
}

func (m *Memory) RevokeAllForUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = time.Now()
	return nil
}

func (m *Memory) IsRevoked(ctx context.Context, c Check) (bool, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if expiry, ok := m.tokens[c.Signature]; ok && now.Before(expiry) {
		return true, nil
	}

	if markedAt, ok := m.users[c.UserID]; ok {
		if now.Sub(markedAt) < m.MarkerTTL && !c.IssuedAt.After(markedAt) {
			return true, nil
		}
	}

	return false, nil
}

// Sweep drops per-token entries past their expiry and user markers past the
// retention window.
func (m *Memory) Sweep(ctx context.Context) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for sig, expiry := range m.tokens {
		if !now.Before(expiry) {
			delete(m.tokens, sig)
		}
	}
	for userID, markedAt := range m.users {
		if now.Sub(markedAt) >= m.MarkerTTL {
			delete(m.users, userID)
		}
	}
	return nil
}
