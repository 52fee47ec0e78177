package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
	"github.com/clearbook/clearbook/internal/auth/revocation"
	"github.com/clearbook/clearbook/internal/auth/store"
	"github.com/clearbook/clearbook/internal/auth/store/drivers/sqlite"
	"github.com/clearbook/clearbook/pkg/cryptox"
	"github.com/clearbook/clearbook/pkg/idx"
	"github.com/clearbook/clearbook/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery staple"

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	// A named shared-cache memory database so concurrent connections from the
	// pool see the same data.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", idx.New())
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func newTestService(t *testing.T, st store.Store) *TokenService {
	t.Helper()

	return &TokenService{
		Codec: jwtx.Codec{
			Secret:   []byte("test-secret-at-least-32-bytes-long"),
			Issuer:   "clearbook-auth",
			Audience: "clearbook-app",
		},
		Store:         st,
		Revocations:   revocation.NewMemory(15 * time.Minute),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		SessionTTL:    24 * time.Hour,
		RotateRefresh: true,
	}
}

func seedPrincipal(t *testing.T, st store.Store, email string, status domain.PrincipalStatus) int64 {
	t.Helper()

	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)

	id, err := st.Principals().Create(context.Background(), domain.Principal{
		Name:         "Avery Quinn",
		Email:        email,
		Role:         "admin",
		Status:       status,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return id
}

func TestLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	userID := seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	t.Run("valid credentials mint a pair", func(t *testing.T) {
		pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)
		require.Equal(t, 15*time.Minute, pair.ExpiresIn)

		claims, err := svc.Validate(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, strconv.FormatInt(userID, 10), claims.Subject)
		require.Equal(t, "avery@example.com", claims.Email)
		require.Equal(t, "admin", claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "avery@example.com", "nope", "203.0.113.7", false)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@example.com", testPassword, "203.0.113.7", false)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("inactive principal", func(t *testing.T) {
		seedPrincipal(t, st, "gone@example.com", domain.StatusInactive)
		_, err := svc.Login(ctx, "gone@example.com", testPassword, "203.0.113.7", false)
		require.ErrorIs(t, err, ErrPrincipalInactive)
	})
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed token records its successor.
	old, err := st.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(pair.RefreshToken))
	require.NoError(t, err)
	require.True(t, old.Revoked)
	require.Equal(t, cryptox.FingerprintToken(rotated.RefreshToken), old.ReplacedByHash)

	t.Run("replay revokes the whole family", func(t *testing.T) {
		_, err := svc.Refresh(ctx, pair.RefreshToken, "198.51.100.9")
		require.ErrorIs(t, err, ErrInvalidRefresh)

		// The successor issued by the legitimate rotation is dead too.
		_, err = svc.Refresh(ctx, rotated.RefreshToken, "203.0.113.7")
		require.ErrorIs(t, err, ErrInvalidRefresh)

		// The user-level marker revokes outstanding access tokens as well.
		_, err = svc.Validate(ctx, rotated.AccessToken)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRotationKeepsSessionLifetime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	lifetimeOf := func(t *testing.T, opaque string) time.Duration {
		t.Helper()
		rt, err := st.RefreshTokens().GetByHash(ctx, cryptox.FingerprintToken(opaque))
		require.NoError(t, err)
		return rt.ExpiresAt.Sub(rt.CreatedAt)
	}

	t.Run("session login stays a session after rotation", func(t *testing.T) {
		pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", false)
		require.NoError(t, err)

		rotated, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
		require.NoError(t, err)

		require.InDelta(t, svc.SessionTTL.Seconds(), lifetimeOf(t, rotated.RefreshToken).Seconds(),
			time.Minute.Seconds())
	})

	t.Run("remembered login keeps the long lifetime", func(t *testing.T) {
		pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
		require.NoError(t, err)

		rotated, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
		require.NoError(t, err)

		require.InDelta(t, svc.RefreshTTL.Seconds(), lifetimeOf(t, rotated.RefreshToken).Seconds(),
			time.Minute.Seconds())
	})
}

func TestRefreshReuseGraceWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	svc.ReuseGraceWindow = 5 * time.Second
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
	require.NoError(t, err)

	// An immediate replay (a retried request) is rejected but does not nuke
	// the rest of the family.
	_, err = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
	require.ErrorIs(t, err, ErrInvalidRefresh)

	next, err := svc.Refresh(ctx, rotated.RefreshToken, "203.0.113.7")
	require.NoError(t, err)
	require.NotEmpty(t, next.RefreshToken)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	userID := seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.NoError(t, st.RefreshTokens().Create(ctx, domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    userID,
		TokenHash: cryptox.FingerprintToken(opaque),
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	_, err = svc.Refresh(ctx, opaque, "203.0.113.7")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshUnknownToken(t *testing.T) {
	t.Parallel()

	st := newTestStore(t)
	svc := newTestService(t, st)

	_, err := svc.Refresh(context.Background(), "never-issued", "203.0.113.7")
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshInactivePrincipal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	userID := seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	require.NoError(t, st.Principals().SetStatus(ctx, userID, domain.StatusInactive))

	_, err = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
	require.ErrorIs(t, err, ErrPrincipalInactive)
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	const attempts = 2
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
		}()
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		losses++
		require.ErrorIs(t, err, ErrInvalidRefresh)
	}
	require.Equal(t, 1, wins, "exactly one concurrent rotation may succeed")
	require.Equal(t, attempts-1, losses)
}

func TestRotationDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	svc.RotateRefresh = false
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	first, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, pair.RefreshToken, first.RefreshToken)

	second, err := svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, pair.RefreshToken, second.RefreshToken)
}

// failingRevocations simulates an unreachable registry.
type failingRevocations struct{}

func (failingRevocations) RevokeToken(context.Context, string, time.Time) error { return nil }
func (failingRevocations) RevokeAllForUser(context.Context, int64) error        { return nil }
func (failingRevocations) Sweep(context.Context) error                          { return nil }
func (failingRevocations) IsRevoked(context.Context, revocation.Check) (bool, error) {
	return false, errors.New("registry unreachable")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		claims, err := svc.Validate(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.NotEmpty(t, claims.Subject)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.Validate(ctx, "garbage")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("blacklisted signature", func(t *testing.T) {
		sig, err := jwtx.Signature(pair.AccessToken)
		require.NoError(t, err)
		require.NoError(t, svc.Revocations.RevokeToken(ctx, sig, time.Now().Add(time.Hour)))

		_, err = svc.Validate(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("registry error fails closed", func(t *testing.T) {
		broken := newTestService(t, st)
		broken.Revocations = failingRevocations{}

		fresh, err := broken.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
		require.NoError(t, err)

		_, err = broken.Validate(ctx, fresh.AccessToken)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidateUserMarkerBeatsUnlistedToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	userID := seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
	require.NoError(t, err)

	// Revoke everything for the user; the token's own signature was never
	// individually blacklisted.
	require.NoError(t, svc.Revocations.RevokeAllForUser(ctx, userID))

	_, err = svc.Validate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestService(t, st)
	seedPrincipal(t, st, "avery@example.com", domain.StatusActive)

	t.Run("single device revokes refresh and blacklists access", func(t *testing.T) {
		pair, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
		require.NoError(t, err)

		require.NoError(t, svc.Logout(ctx, pair.RefreshToken, pair.AccessToken, "203.0.113.7", false))

		_, err = svc.Refresh(ctx, pair.RefreshToken, "203.0.113.7")
		require.ErrorIs(t, err, ErrInvalidRefresh)

		_, err = svc.Validate(ctx, pair.AccessToken)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("all devices revokes every session", func(t *testing.T) {
		a, err := svc.Login(ctx, "avery@example.com", testPassword, "203.0.113.7", true)
		require.NoError(t, err)
		b, err := svc.Login(ctx, "avery@example.com", testPassword, "198.51.100.9", true)
		require.NoError(t, err)

		require.NoError(t, svc.Logout(ctx, a.RefreshToken, a.AccessToken, "203.0.113.7", true))

		_, err = svc.Refresh(ctx, b.RefreshToken, "198.51.100.9")
		require.ErrorIs(t, err, ErrInvalidRefresh)

		_, err = svc.Validate(ctx, b.AccessToken)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown refresh token is idempotent", func(t *testing.T) {
		require.NoError(t, svc.Logout(ctx, "never-issued", "", "203.0.113.7", false))
	})
}
