package verification

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

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, subject_kind, subject_id, original_value, verified_value,
	status, auto_approve_threshold, requested_by, verified_by, verified_at, notes,
	version_id, created_at, updated_at, deleted_at`

func scan(row pgx.Row) (*ValueVerification, error) {
	var v ValueVerification
	err := row.Scan(&v.ID, &v.Subject.Kind, &v.Subject.ID, &v.OriginalValue, &v.VerifiedValue,
		&v.Status, &v.AutoApproveThreshold, &v.RequestedBy, &v.VerifiedBy, &v.VerifiedAt, &v.Notes,
		&v.VersionID, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt)
	return &v, err
}

func (r *repoPG) Create(ctx context.Context, v *ValueVerification) error {
	v.ID = uuid.New()
	if v.Status == "" {
		v.Status = StatusPending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO value_verifications (id, subject_kind, subject_id,
			original_value, verified_value, status, auto_approve_threshold, requested_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.Subject.Kind, v.Subject.ID,
		v.OriginalValue, v.VerifiedValue, v.Status, v.AutoApproveThreshold, v.RequestedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ValueVerification, error) {
	v, err := scan(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+cols+` FROM value_verifications WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *repoPG) Update(ctx context.Context, v *ValueVerification) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE value_verifications SET
			verified_value = $3, status = $4, verified_by = $5, verified_at = $6, notes = $7,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		v.ID, v.VersionID,
		v.VerifiedValue, v.Status, v.VerifiedBy, v.VerifiedAt, v.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	v.VersionID++
	return nil
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*ValueVerification, int, error) {
	where := `deleted_at IS NULL`
	args := []interface{}{}
	if status != "" {
		where += ` AND status = $1`
		args = append(args, status)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM value_verifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM value_verifications WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, cols, where, len(args)-1, len(args))
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*ValueVerification
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, v)
	}
	return result, total, rows.Err()
}

func (r *repoPG) HasOpenForSubject(ctx context.Context, subject SubjectRef) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM value_verifications
			WHERE subject_kind = $1 AND subject_id = $2 AND status = $3 AND deleted_at IS NULL
		)`, subject.Kind, subject.ID, StatusPending).Scan(&exists)
	return exists, err
}
