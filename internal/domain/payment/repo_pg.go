package payment

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

// =========== Payment Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const paymentCols = `id, payable_kind, payable_id, reference,
	amount, discount_amount, gloss_amount, total_amount,
	status, method, paid_at,
	version_id, created_at, updated_at, deleted_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.Payable.Kind, &p.Payable.ID, &p.Reference,
		&p.Amount, &p.DiscountAmount, &p.GlossAmount, &p.TotalAmount,
		&p.Status, &p.Method, &p.PaidAt,
		&p.VersionID, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = StatusPending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (id, payable_kind, payable_id, reference,
			amount, discount_amount, gloss_amount, total_amount, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Payable.Kind, p.Payable.ID, p.Reference,
		p.Amount, p.DiscountAmount, p.GlossAmount, p.TotalAmount, p.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Payment) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET
			amount = $3, discount_amount = $4, gloss_amount = $5, total_amount = $6,
			status = $7, method = $8, paid_at = $9,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		p.ID, p.VersionID,
		p.Amount, p.DiscountAmount, p.GlossAmount, p.TotalAmount,
		p.Status, p.Method, p.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	p.VersionID++
	return nil
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Payment, int, error) {
	where := `deleted_at IS NULL`
	args := []interface{}{}
	if status != "" {
		where += ` AND status = $1`
		args = append(args, status)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM payments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM payments WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, paymentCols, where, len(args)-1, len(args))
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

func (r *repoPG) ListByPayable(ctx context.Context, payable PayableRef) ([]*Payment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE payable_kind = $1 AND payable_id = $2 AND deleted_at IS NULL
		ORDER BY created_at`, payable.Kind, payable.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// =========== Gloss Repository ===========

type glossRepoPG struct{ pool *pgxpool.Pool }

func NewGlossRepoPG(pool *pgxpool.Pool) GlossRepository { return &glossRepoPG{pool: pool} }

const glossCols = `id, payment_id, amount, reason, code, status, is_appealable,
	applied_by, appealed_by, appealed_at, justification,
	reverted_by, reverted_at, revert_notes,
	version_id, created_at, updated_at, deleted_at`

func scanGloss(row pgx.Row) (*PaymentGloss, error) {
	var g PaymentGloss
	err := row.Scan(&g.ID, &g.PaymentID, &g.Amount, &g.Reason, &g.Code, &g.Status, &g.IsAppealable,
		&g.AppliedBy, &g.AppealedBy, &g.AppealedAt, &g.Justification,
		&g.RevertedBy, &g.RevertedAt, &g.RevertNotes,
		&g.VersionID, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt)
	return &g, err
}

func (r *glossRepoPG) Create(ctx context.Context, g *PaymentGloss) error {
	g.ID = uuid.New()
	if g.Status == "" {
		g.Status = GlossApplied
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payment_glosses (id, payment_id, amount, reason, code,
			status, is_appealable, applied_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		g.ID, g.PaymentID, g.Amount, g.Reason, g.Code,
		g.Status, g.IsAppealable, g.AppliedBy)
	return err
}

func (r *glossRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PaymentGloss, error) {
	g, err := scanGloss(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+glossCols+` FROM payment_glosses WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *glossRepoPG) Update(ctx context.Context, g *PaymentGloss) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE payment_glosses SET
			status = $3, appealed_by = $4, appealed_at = $5, justification = $6,
			reverted_by = $7, reverted_at = $8, revert_notes = $9,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		g.ID, g.VersionID,
		g.Status, g.AppealedBy, g.AppealedAt, g.Justification,
		g.RevertedBy, g.RevertedAt, g.RevertNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	g.VersionID++
	return nil
}

func (r *glossRepoPG) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*PaymentGloss, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+glossCols+` FROM payment_glosses
		WHERE payment_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PaymentGloss
	for rows.Next() {
		g, err := scanGloss(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *glossRepoPG) SumNonReverted(ctx context.Context, paymentID uuid.UUID) (float64, error) {
	var sum float64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payment_glosses
		WHERE payment_id = $1 AND status <> $2 AND deleted_at IS NULL`,
		paymentID, GlossReverted).Scan(&sum)
	return sum, err
}

// =========== Refund Repository ===========

type refundRepoPG struct{ pool *pgxpool.Pool }

func NewRefundRepoPG(pool *pgxpool.Pool) RefundRepository { return &refundRepoPG{pool: pool} }

const refundCols = `id, payment_id, amount, reason, status, processed_by, processed_at,
	version_id, created_at, updated_at, deleted_at`

func scanRefund(row pgx.Row) (*PaymentRefund, error) {
	var re PaymentRefund
	err := row.Scan(&re.ID, &re.PaymentID, &re.Amount, &re.Reason, &re.Status,
		&re.ProcessedBy, &re.ProcessedAt,
		&re.VersionID, &re.CreatedAt, &re.UpdatedAt, &re.DeletedAt)
	return &re, err
}

func (r *refundRepoPG) Create(ctx context.Context, re *PaymentRefund) error {
	re.ID = uuid.New()
	if re.Status == "" {
		re.Status = RefundPending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payment_refunds (id, payment_id, amount, reason, status,
			processed_by, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		re.ID, re.PaymentID, re.Amount, re.Reason, re.Status,
		re.ProcessedBy, re.ProcessedAt)
	return err
}

func (r *refundRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PaymentRefund, error) {
	re, err := scanRefund(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+refundCols+` FROM payment_refunds WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return re, nil
}

func (r *refundRepoPG) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*PaymentRefund, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+refundCols+` FROM payment_refunds
		WHERE payment_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*PaymentRefund
	for rows.Next() {
		re, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, re)
	}
	return result, rows.Err()
}

func (r *refundRepoPG) SumCompleted(ctx context.Context, paymentID uuid.UUID) (float64, error) {
	var sum float64
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payment_refunds
		WHERE payment_id = $1 AND status = $2 AND deleted_at IS NULL`,
		paymentID, RefundCompleted).Scan(&sum)
	return sum, err
}
