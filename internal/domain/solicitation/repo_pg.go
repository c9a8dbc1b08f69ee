package solicitation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const cols = `id, patient_id, tuss_code, description, status, requested_by_id,
	version_id, created_at, updated_at, deleted_at`

func scan(row pgx.Row) (*Solicitation, error) {
	var s Solicitation
	err := row.Scan(&s.ID, &s.PatientID, &s.TUSSCode, &s.Description, &s.Status,
		&s.RequestedByID, &s.VersionID, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	return &s, err
}

func (r *repoPG) Create(ctx context.Context, s *Solicitation) error {
	s.ID = uuid.New()
	if s.Status == "" {
		s.Status = StatusPending
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO solicitations (id, patient_id, tuss_code, description, status, requested_by_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.PatientID, s.TUSSCode, s.Description, s.Status, s.RequestedByID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Solicitation, error) {
	s, err := scan(r.conn(ctx).QueryRow(ctx, `
		SELECT `+cols+` FROM solicitations WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE solicitations
		SET status = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Solicitation, int, error) {
	where := `deleted_at IS NULL`
	args := []interface{}{}
	if status != "" {
		where += ` AND status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM solicitations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM solicitations WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, cols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Solicitation
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, s)
	}
	return result, total, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE solicitations SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
