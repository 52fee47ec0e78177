package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clearbook/clearbook/pkg/httpx"
	"github.com/clearbook/clearbook/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

// sessionServer stubs the full auth surface for Session tests.
type sessionServer struct {
	*httptest.Server

	logins       atomic.Int64
	refreshes    atomic.Int64
	logouts      atomic.Int64
	refreshDelay time.Duration

	// failRefreshes makes the next N refresh calls answer 500.
	failRefreshes atomic.Int64

	// releaseLogin / releaseRefresh, when set, hold responses until closed.
	releaseLogin   chan struct{}
	releaseRefresh chan struct{}
}

func newSessionServer(t *testing.T) *sessionServer {
	t.Helper()

	ss := &sessionServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		n := ss.logins.Add(1)
		if ss.releaseLogin != nil {
			<-ss.releaseLogin
		}
		var req LoginRequest
		readJSON(t, r, &req)
		if req.Password != "open sesame" {
			ErrInvalidCredentials.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, TokenResponse{
			AccessToken:  fmt.Sprintf("login-access-%d", n),
			RefreshToken: fmt.Sprintf("login-refresh-%d", n),
			ExpiresIn:    900,
			User:         PrincipalInfo{ID: 1, Name: "Avery Quinn", Email: req.Email, Role: "admin"},
		})
	})

	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		n := ss.refreshes.Add(1)
		if ss.releaseRefresh != nil {
			<-ss.releaseRefresh
		}
		time.Sleep(ss.refreshDelay)
		if ss.failRefreshes.Load() > 0 {
			ss.failRefreshes.Add(-1)
			ErrServerError.WriteError(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, TokenResponse{
			AccessToken:  fmt.Sprintf("refreshed-access-%d", n),
			RefreshToken: fmt.Sprintf("refreshed-refresh-%d", n),
			ExpiresIn:    900,
			User:         PrincipalInfo{ID: 1, Name: "Avery Quinn", Email: "avery@example.com", Role: "admin"},
		})
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		ss.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	ss.Server = httptest.NewServer(mux)
	t.Cleanup(ss.Close)
	return ss
}

func readJSON(t *testing.T, r *http.Request, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r.Body).Decode(v))
}

func TestSessionLoginLifecycle(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	var mu sync.Mutex
	var transitions []SessionState
	unsubscribe := session.Subscribe(func(s SessionState) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})
	defer unsubscribe()

	require.Equal(t, StateUnauthenticated, session.State())

	require.NoError(t, session.Login(context.Background(), "avery@example.com", "open sesame", true))
	require.Equal(t, StateAuthenticated, session.State())

	principal, ok := session.CurrentPrincipal()
	require.True(t, ok)
	require.Equal(t, "avery@example.com", principal.Email)

	state, err := cache.Load()
	require.NoError(t, err)
	require.Equal(t, "login-access-1", state.AccessToken)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []SessionState{StateAuthenticating, StateAuthenticated}, transitions)
}

func TestSessionLoginFailure(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	err := session.Login(context.Background(), "avery@example.com", "wrong", false)
	require.True(t, IsUnauthorized(err))
	require.Equal(t, StateUnauthenticated, session.State())

	state, loadErr := cache.Load()
	require.NoError(t, loadErr)
	require.True(t, state.Empty())

	_, ok := session.CurrentPrincipal()
	require.False(t, ok)
}

func TestSessionAccessTokenUsesCacheWhenFresh(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	require.NoError(t, session.Login(context.Background(), "avery@example.com", "open sesame", true))

	token, err := session.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "login-access-1", token)
	require.EqualValues(t, 0, server.refreshes.Load())
}

func TestSessionAccessTokenRefreshesWhenExpiring(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	// A session restored from disk with an almost-expired access token.
	require.NoError(t, cache.Save(TokenState{
		AccessToken:  "stale-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(5 * time.Second).UnixMilli(),
	}))

	token, err := session.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "refreshed-access-1", token)
	require.EqualValues(t, 1, server.refreshes.Load())
	require.Equal(t, StateAuthenticated, session.State())
}

func TestAccessTokenFallsBackToCachedOnThrottle(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	server.failRefreshes.Store(1)

	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	// Inside the expiring-soon buffer, but still valid for 10 more seconds.
	require.NoError(t, cache.Save(TokenState{
		AccessToken:  "live-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(10 * time.Second).UnixMilli(),
	}))

	// The first attempt reaches the server and fails transiently.
	_, err := session.AccessToken(context.Background())
	require.Error(t, err)

	// An immediate retry lands in the throttle zone; the still-valid cached
	// token is served instead of surfacing the throttle as a hard error.
	token, err := session.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "live-access", token)
	require.EqualValues(t, 1, server.refreshes.Load())
}

func TestSessionLogout(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	require.NoError(t, session.Login(context.Background(), "avery@example.com", "open sesame", true))
	require.NoError(t, session.Logout(context.Background(), false))

	require.Equal(t, StateLoggedOut, session.State())
	require.EqualValues(t, 1, server.logouts.Load())

	state, err := cache.Load()
	require.NoError(t, err)
	require.True(t, state.Empty())

	_, ok := session.CurrentPrincipal()
	require.False(t, ok)

	_, err = session.AccessToken(context.Background())
	require.Error(t, err)
}

func TestLogoutWinsAgainstInFlightRefresh(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	server.releaseRefresh = make(chan struct{})

	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	require.NoError(t, cache.Save(TokenState{
		AccessToken:  "stale-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(5 * time.Second).UnixMilli(),
	}))

	// Kick off a refresh that blocks server-side.
	refreshDone := make(chan error, 1)
	go func() {
		_, err := session.AccessToken(context.Background())
		refreshDone <- err
	}()

	// Wait for the request to reach the server, then log out underneath it.
	require.Eventually(t, func() bool { return server.refreshes.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, session.Logout(context.Background(), false))

	// Release the held refresh response.
	close(server.releaseRefresh)

	require.Error(t, <-refreshDone)
	require.Equal(t, StateLoggedOut, session.State())

	// The late refresh result never lands: logout wins.
	state, err := cache.Load()
	require.NoError(t, err)
	require.True(t, state.Empty(), "completed refresh must not resurrect a logged-out session")
}

func TestLogoutWinsAgainstInFlightLogin(t *testing.T) {
	t.Parallel()

	server := newSessionServer(t)
	server.releaseLogin = make(chan struct{})

	cache := NewTokenCache(NewMemStore(), NewMemStore())
	session := NewSession(NewClient(server.URL), cache)

	// Kick off a login that blocks server-side.
	loginDone := make(chan error, 1)
	go func() {
		loginDone <- session.Login(context.Background(), "avery@example.com", "open sesame", true)
	}()

	// Wait for the request to reach the server, then log out underneath it.
	require.Eventually(t, func() bool { return server.logins.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, session.Logout(context.Background(), false))

	// Release the held login response.
	close(server.releaseLogin)

	require.Error(t, <-loginDone)
	require.Equal(t, StateLoggedOut, session.State())

	// The late login result never lands: logout wins.
	state, err := cache.Load()
	require.NoError(t, err)
	require.True(t, state.Empty(), "completed login must not resurrect a logged-out session")

	_, ok := session.CurrentPrincipal()
	require.False(t, ok)
}

func TestCurrentPrincipalFromStoredToken(t *testing.T) {
	t.Parallel()

	codec := jwtx.Codec{
		Secret:   []byte("test-secret-at-least-32-bytes-long"),
		Issuer:   "clearbook-auth",
		Audience: "clearbook-app",
	}
	token, err := codec.Sign(jwtx.NewAccessClaims(
		"42", "Avery Quinn", "avery@example.com", "admin",
		15*time.Minute, codec.Issuer, codec.Audience, time.Now(),
	))
	require.NoError(t, err)

	cache := NewTokenCache(NewMemStore(), NewMemStore())
	require.NoError(t, cache.Save(TokenState{AccessToken: token, RefreshToken: "r"}))

	// A session restored from disk decodes identity locally, display-only.
	session := NewSession(NewClient("http://localhost:0"), cache)
	principal, ok := session.CurrentPrincipal()
	require.True(t, ok)
	require.EqualValues(t, 42, principal.ID)
	require.Equal(t, "Avery Quinn", principal.Name)
	require.Equal(t, "admin", principal.Role)
}
