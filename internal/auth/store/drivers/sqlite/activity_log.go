package sqlite

import (
	"context"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
)

type activityLogRepo struct {
	db dbtx
}

func (r *activityLogRepo) Insert(ctx context.Context, e domain.ActivityEvent) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, action, source_ip, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Action, e.SourceIP, e.Detail, createdAt)
	return err
}

func (r *activityLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM activity_log WHERE created_at < ?`, cutoff.UTC())
	return err
}
