package authsdk

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/clearbook/clearbook/pkg/jwtx"
)

// SessionState is the auth lifecycle state a Session is in.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
	StateLoggedOut
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Session orchestrates the client-side auth lifecycle: login, transparent
// refresh via the Synchronizer, and logout. Subscribers are notified of every
// state change. A generation counter ensures a logout always wins against an
// in-flight refresh: a stale completion can never resurrect credentials.
type Session struct {
	client *Client
	cache  *TokenCache
	sync   *Synchronizer

	mu         sync.Mutex
	state      SessionState
	principal  *PrincipalInfo
	generation uint64
	subs       map[int]func(SessionState)
	nextSub    int
}

func NewSession(client *Client, cache *TokenCache) *Session {
	s := &Session{
		client: client,
		cache:  cache,
		sync:   NewSynchronizer(client, cache),
		subs:   make(map[int]func(SessionState)),
	}
	s.sync.OnRefreshed = s.onRefreshed
	s.sync.OnSessionExpired = s.onSessionExpired
	return s
}

// Synchronizer exposes the underlying refresh coordinator for tuning.
func (s *Session) Synchronizer() *Synchronizer { return s.sync }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for state change notifications and returns an
// unsubscribe function. fn is called outside the session lock.
func (s *Session) Subscribe(fn func(SessionState)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Login authenticates and establishes the session. Any previous credentials
// are cleared first so a failed login never leaves stale tokens behind.
func (s *Session) Login(ctx context.Context, email, password string, rememberMe bool) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.principal = nil
	s.mu.Unlock()
	s.sync.Cancel()
	_ = s.cache.Clear()

	s.setState(StateAuthenticating)

	resp, err := s.client.Login(ctx, email, password, rememberMe)
	if err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	// A logout (or another login) issued while this request was in flight
	// wins: discard the response instead of resurrecting credentials.
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return ErrNotAuthenticated
	}

	if err := s.cache.Save(TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli(),
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.principal = &resp.User
	s.mu.Unlock()

	s.sync.Prime(resp)
	s.setState(StateAuthenticated)
	return nil
}

// Logout tears the session down. The local state is cleared first
// (optimistic: the user is logged out the moment they ask), then the server
// revocation is attempted best-effort.
func (s *Session) Logout(ctx context.Context, allDevices bool) error {
	state, _ := s.cache.Load()

	s.mu.Lock()
	s.generation++
	s.principal = nil
	s.mu.Unlock()

	s.sync.Cancel()
	_ = s.cache.Clear()
	s.setState(StateLoggedOut)

	if state.Empty() {
		return nil
	}
	// Best effort; the tokens are already gone locally either way.
	return s.client.Logout(ctx, state.RefreshToken, state.AccessToken, allDevices)
}

// AccessToken returns a token ready to present, refreshing first when the
// cached one is expiring. ErrNotAuthenticated when there is no session.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if !s.cache.ExpiringSoon(30 * time.Second) {
		state, err := s.cache.Load()
		if err == nil && state.AccessToken != "" {
			return state.AccessToken, nil
		}
	}

	if s.State() == StateAuthenticated {
		s.setState(StateRefreshing)
	}
	resp, err := s.refresh(ctx)
	if err != nil {
		if errors.Is(err, ErrThrottled) {
			// Throttled, but the cached token may merely be inside the
			// expiring-soon buffer. Keep serving it until it actually expires
			// rather than failing a live session.
			state, loadErr := s.cache.Load()
			if loadErr == nil && state.AccessToken != "" && time.Now().Before(state.Expiry()) {
				return state.AccessToken, nil
			}
		}
		return "", err
	}
	return resp.AccessToken, nil
}

// CurrentPrincipal returns the identity snapshot of the logged-in user. The
// claims come from a local decode without signature verification: good enough
// to render a name in the corner of the screen, never for authorization.
func (s *Session) CurrentPrincipal() (*PrincipalInfo, bool) {
	s.mu.Lock()
	if s.principal != nil {
		p := *s.principal
		s.mu.Unlock()
		return &p, true
	}
	s.mu.Unlock()

	state, err := s.cache.Load()
	if err != nil || state.AccessToken == "" {
		return nil, false
	}
	claims, err := jwtx.Decode(state.AccessToken)
	if err != nil {
		return nil, false
	}

	id, _ := strconv.ParseInt(claims.Subject, 10, 64)
	return &PrincipalInfo{
		ID:    id,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, true
}

// refresh runs a synchronized refresh, discarding the result if a logout or
// new login happened while it was in flight.
func (s *Session) refresh(ctx context.Context) (*TokenResponse, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	resp, err := s.sync.Refresh(ctx)

	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return nil, ErrNotAuthenticated
	}

	if err != nil {
		if !IsUnauthorized(err) && s.State() == StateRefreshing {
			// Transient failure: still authenticated, the synchronizer retries
			// in the background.
			s.setState(StateAuthenticated)
		}
		return nil, err
	}

	s.setState(StateAuthenticated)
	return resp, nil
}

func (s *Session) onRefreshed(resp *TokenResponse) {
	s.mu.Lock()
	s.principal = &resp.User
	s.mu.Unlock()
}

func (s *Session) onSessionExpired() {
	s.mu.Lock()
	s.principal = nil
	s.mu.Unlock()
	s.setState(StateUnauthenticated)
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	subs := make([]func(SessionState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}
