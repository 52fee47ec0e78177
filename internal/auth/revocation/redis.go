package revocation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix = "revoked:sig:"
	userKeyPrefix  = "revoked:user:"
)

// Redis is a Store shared by every service instance. Key expiry does the
// sweeping, so Sweep is a no-op.
type Redis struct {
	client    redis.UniversalClient
	markerTTL time.Duration
}

// NewRedis wraps an existing client. markerTTL should match the access token
// TTL, same as for Memory.
func NewRedis(client redis.UniversalClient, markerTTL time.Duration) *Redis {
	return &Redis{client: client, markerTTL: markerTTL}
}

func (r *Redis) RevokeToken(ctx context.Context, signature string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, tokenKeyPrefix+signature, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revocation: redis set: %w", err)
	}
	return nil
}

func (r *Redis) RevokeAllForUser(ctx context.Context, userID int64) error {
	markedAt := strconv.FormatInt(time.Now().UnixNano(), 10)
	key := userKeyPrefix + strconv.FormatInt(userID, 10)
	if err := r.client.Set(ctx, key, markedAt, r.markerTTL).Err(); err != nil {
		return fmt.Errorf("revocation: redis set: %w", err)
	}
	return nil
}

func (r *Redis) IsRevoked(ctx context.Context, c Check) (bool, error) {
	userKey := userKeyPrefix + strconv.FormatInt(c.UserID, 10)

	pipe := r.client.Pipeline()
	sigCmd := pipe.Exists(ctx, tokenKeyPrefix+c.Signature)
	userCmd := pipe.Get(ctx, userKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("revocation: redis pipeline: %w", err)
	}

	if sigCmd.Val() > 0 {
		return true, nil
	}

	raw, err := userCmd.Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revocation: redis get: %w", err)
	}

	markedAtNanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Unreadable marker: fail closed for this user.
		return true, nil
	}
	markedAt := time.Unix(0, markedAtNanos)
	return !c.IssuedAt.After(markedAt), nil
}

// Sweep is a no-op; Redis expires keys natively.
func (r *Redis) Sweep(ctx context.Context) error { return nil }
