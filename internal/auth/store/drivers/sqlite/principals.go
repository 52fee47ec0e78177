package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
	"github.com/clearbook/clearbook/internal/auth/store"
)

type principalsRepo struct {
	db dbtx
}

const principalColumns = `id, name, email, role, status, password_hash, created_at, updated_at`

func (r *principalsRepo) GetByID(ctx context.Context, id int64) (domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

func (r *principalsRepo) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanPrincipal(row)
}

func (r *principalsRepo) Create(ctx context.Context, p domain.Principal) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO principals (name, email, role, status, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Name, strings.ToLower(strings.TrimSpace(p.Email)), p.Role, string(p.Status),
		p.PasswordHash, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, store.ErrAlreadyExists
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r *principalsRepo) SetStatus(ctx context.Context, id int64, status domain.PrincipalStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE principals SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *principalsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

func scanPrincipal(row *sql.Row) (domain.Principal, error) {
	var p domain.Principal
	var status string
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &status,
		&p.PasswordHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	p.Status = domain.PrincipalStatus(status)
	return p, nil
}
