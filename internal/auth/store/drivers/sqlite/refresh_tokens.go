package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) Create(ctx context.Context, t domain.RefreshToken) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens
		   (id, user_id, token_hash, expires_at, created_at, created_by_ip,
		    revoked, revoked_by_ip, replaced_by_hash)
		 VALUES (?, ?, ?, ?, ?, ?, 0, '', '')`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), createdAt, t.CreatedByIP)
	return err
}

func (r *refreshTokensRepo) GetByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at, created_by_ip,
		        revoked, revoked_at, revoked_by_ip, replaced_by_hash
		 FROM refresh_tokens WHERE token_hash = ?`, hash)

	var t domain.RefreshToken
	var revokedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt,
		&t.CreatedByIP, &t.Revoked, &revokedAt, &t.RevokedByIP, &t.ReplacedByHash)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return t, nil
}

// Revoke performs a compare-and-swap on the revoked flag. The WHERE clause
// only matches a live token, so of two concurrent rotations presenting the
// same token exactly one observes RowsAffected == 1.
func (r *refreshTokensRepo) Revoke(ctx context.Context, hash, byIP, replacedByHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		 SET revoked = 1, revoked_at = ?, revoked_by_ip = ?, replaced_by_hash = ?
		 WHERE token_hash = ? AND revoked = 0`,
		at.UTC(), byIP, replacedByHash, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *refreshTokensRepo) RevokeAllForUser(ctx context.Context, userID int64, byIP string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		 SET revoked = 1, revoked_at = ?, revoked_by_ip = ?
		 WHERE user_id = ? AND revoked = 0`,
		at.UTC(), byIP, userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().UTC())
	return err
}
