package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TokenStore persists a credential snapshot. Load returns a zero TokenState,
// not an error, when nothing is stored.
type TokenStore interface {
	Load() (TokenState, error)
	Save(TokenState) error
	Clear() error
}

// MemStore is an in-process TokenStore. Used as the redundant backup behind a
// FileStore, and on its own in tests.
type MemStore struct {
	mu    sync.RWMutex
	state TokenState
	set   bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Load() (TokenState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return TokenState{}, nil
	}
	return s.state, nil
}

func (s *MemStore) Save(state TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.set = true
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = TokenState{}
	s.set = false
	return nil
}

// FileStore persists the snapshot as a JSON file, surviving process
// restarts. Writes go through a temp file and rename so a crash mid-write
// never leaves a torn snapshot.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TokenState{}, nil
		}
		return TokenState{}, fmt.Errorf("authsdk: reading token file: %w", err)
	}

	var state TokenState
	if err := json.Unmarshal(buf, &state); err != nil {
		return TokenState{}, fmt.Errorf("authsdk: corrupt token file: %w", err)
	}
	return state, nil
}

func (s *FileStore) Save(state TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("authsdk: encoding token state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("authsdk: writing token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("authsdk: replacing token file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("authsdk: removing token file: %w", err)
	}
	return nil
}

// DefaultTokenPath returns a per-user location for the token file.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("authsdk: resolving config dir: %w", err)
	}
	return filepath.Join(dir, "clearbook", "tokens.json"), nil
}

// TokenCache keeps the snapshot in two redundant stores. Writes go to both;
// reads prefer the primary but fall back to the backup, and whichever side
// holds the newer snapshot heals the other. Either store failing alone never
// loses the session.
type TokenCache struct {
	primary TokenStore
	backup  TokenStore

	now func() time.Time
}

func NewTokenCache(primary, backup TokenStore) *TokenCache {
	return &TokenCache{primary: primary, backup: backup, now: time.Now}
}

// Save stamps LastSync and writes both stores. It fails only when both
// writes fail.
func (c *TokenCache) Save(state TokenState) error {
	state.LastSync = c.now().UnixMilli()

	errPrimary := c.primary.Save(state)
	errBackup := c.backup.Save(state)
	if errPrimary != nil && errBackup != nil {
		return errors.Join(errPrimary, errBackup)
	}
	return nil
}

// Load returns the freshest snapshot the two stores hold, healing the stale
// side when they disagree. A zero TokenState means no session.
func (c *TokenCache) Load() (TokenState, error) {
	primary, errPrimary := c.primary.Load()
	backup, errBackup := c.backup.Load()
	if errPrimary != nil && errBackup != nil {
		return TokenState{}, errors.Join(errPrimary, errBackup)
	}

	// A failed read counts as an empty snapshot; the healthy side wins.
	switch {
	case errPrimary != nil:
		primary = TokenState{}
	case errBackup != nil:
		backup = TokenState{}
	}

	if backup.LastSync > primary.LastSync && !backup.Empty() {
		// Backup is fresher: heal the primary.
		_ = c.primary.Save(backup)
		return backup, nil
	}
	if primary.LastSync > backup.LastSync && !primary.Empty() {
		_ = c.backup.Save(primary)
	}
	return primary, nil
}

// Clear wipes both stores.
func (c *TokenCache) Clear() error {
	errPrimary := c.primary.Clear()
	errBackup := c.backup.Clear()
	if errPrimary != nil || errBackup != nil {
		return errors.Join(errPrimary, errBackup)
	}
	return nil
}

// ExpiringSoon reports whether the access token expires within buffer. It
// fails safe: a missing snapshot, unreadable stores, or an absent expiry all
// report true, so callers refresh rather than present a token of unknown
// freshness.
func (c *TokenCache) ExpiringSoon(buffer time.Duration) bool {
	state, err := c.Load()
	if err != nil || state.Empty() || state.ExpiresAt == 0 {
		return true
	}
	return !c.now().Add(buffer).Before(state.Expiry())
}
