package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(client, 15*time.Minute), mr
}

func TestRedisRevokeToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, mr := newRedisStore(t)

	check := Check{Signature: "sig-a", UserID: 1, IssuedAt: time.Now()}

	revoked, err := r.IsRevoked(ctx, check)
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, r.RevokeToken(ctx, "sig-a", time.Now().Add(time.Minute)))

	revoked, err = r.IsRevoked(ctx, check)
	require.NoError(t, err)
	require.True(t, revoked)

	// Key expiry sweeps the entry.
	mr.FastForward(2 * time.Minute)

	revoked, err = r.IsRevoked(ctx, check)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRedisRevokeAllForUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, _ := newRedisStore(t)

	issuedBefore := time.Now().Add(-time.Minute)
	require.NoError(t, r.RevokeAllForUser(ctx, 7))

	revoked, err := r.IsRevoked(ctx, Check{Signature: "unlisted", UserID: 7, IssuedAt: issuedBefore})
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, Check{Signature: "fresh", UserID: 7, IssuedAt: time.Now().Add(time.Second)})
	require.NoError(t, err)
	require.False(t, revoked)

	revoked, err = r.IsRevoked(ctx, Check{Signature: "other", UserID: 8, IssuedAt: issuedBefore})
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRedisUnavailableFailsClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, mr := newRedisStore(t)
	mr.Close()

	_, err := r.IsRevoked(ctx, Check{Signature: "sig", UserID: 1, IssuedAt: time.Now()})
	require.Error(t, err, "store errors must surface so the validator can fail closed")
}
