package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// =========== Batch Repository ===========

type batchRepoPG struct{ pool *pgxpool.Pool }

func NewBatchRepoPG(pool *pgxpool.Pool) BatchRepository { return &batchRepoPG{pool: pool} }

const batchCols = `id, entity_kind, entity_id, period_start, period_end, status,
	total_amount, items_count,
	nfe_status, nfe_number, nfe_protocol, nfe_authorized_at, nfe_cancelled_at, nfe_error,
	payment_status, payment_due_date, paid_at, is_late, days_late, reminders_sent, last_reminder_at,
	version_id, created_at, updated_at, deleted_at`

func scanBatch(row pgx.Row) (*BillingBatch, error) {
	var b BillingBatch
	err := row.Scan(&b.ID, &b.Entity.Kind, &b.Entity.ID, &b.PeriodStart, &b.PeriodEnd, &b.Status,
		&b.TotalAmount, &b.ItemsCount,
		&b.NFeStatus, &b.NFeNumber, &b.NFeProtocol, &b.NFeAuthorizedAt, &b.NFeCancelledAt, &b.NFeError,
		&b.PaymentStatus, &b.PaymentDueDate, &b.PaidAt, &b.IsLate, &b.DaysLate, &b.RemindersSent, &b.LastReminderAt,
		&b.VersionID, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	return &b, err
}

func (r *batchRepoPG) Create(ctx context.Context, b *BillingBatch) error {
	b.ID = uuid.New()
	if b.Status == "" {
		b.Status = StatusPending
	}
	if b.NFeStatus == "" {
		b.NFeStatus = NFePending
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = PayPending
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO billing_batches (id, entity_kind, entity_id, period_start, period_end,
			status, nfe_status, payment_status, payment_due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		b.ID, b.Entity.Kind, b.Entity.ID, b.PeriodStart, b.PeriodEnd,
		b.Status, b.NFeStatus, b.PaymentStatus, b.PaymentDueDate)
	return err
}

func (r *batchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillingBatch, error) {
	b, err := scanBatch(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+batchCols+` FROM billing_batches WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *batchRepoPG) GetByKey(ctx context.Context, entity EntityRef, periodStart, periodEnd time.Time) (*BillingBatch, error) {
	b, err := scanBatch(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+batchCols+` FROM billing_batches
		WHERE entity_kind = $1 AND entity_id = $2
		  AND period_start = $3 AND period_end = $4
		  AND deleted_at IS NULL`,
		entity.Kind, entity.ID, periodStart, periodEnd))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *batchRepoPG) Update(ctx context.Context, b *BillingBatch) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE billing_batches SET
			status = $3,
			nfe_status = $4, nfe_number = $5, nfe_protocol = $6,
			nfe_authorized_at = $7, nfe_cancelled_at = $8, nfe_error = $9,
			payment_status = $10, payment_due_date = $11, paid_at = $12,
			is_late = $13, days_late = $14, reminders_sent = $15, last_reminder_at = $16,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		b.ID, b.VersionID,
		b.Status,
		b.NFeStatus, b.NFeNumber, b.NFeProtocol,
		b.NFeAuthorizedAt, b.NFeCancelledAt, b.NFeError,
		b.PaymentStatus, b.PaymentDueDate, b.PaidAt,
		b.IsLate, b.DaysLate, b.RemindersSent, b.LastReminderAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	b.VersionID++
	return nil
}

func (r *batchRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*BillingBatch, int, error) {
	where := `deleted_at IS NULL`
	args := []interface{}{}
	if status != "" {
		where += ` AND status = $1`
		args = append(args, status)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM billing_batches WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT %s FROM billing_batches WHERE %s
		ORDER BY period_start DESC, created_at DESC
		LIMIT $%d OFFSET $%d`, batchCols, where, len(args)-1, len(args))
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result, err := collectBatches(rows)
	return result, total, err
}

func (r *batchRepoPG) ListUnpaidWithDueDate(ctx context.Context) ([]*BillingBatch, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+batchCols+` FROM billing_batches
		WHERE payment_status <> $1 AND payment_due_date IS NOT NULL
		  AND deleted_at IS NULL
		ORDER BY payment_due_date`, PayPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

// RecomputeTotals always sums in full over non-deleted items, never applies a
// delta, so verification resolutions cannot drift the aggregate.
func (r *batchRepoPG) RecomputeTotals(ctx context.Context, batchID uuid.UUID) (float64, int, error) {
	var total float64
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE billing_batches b SET
			total_amount = agg.total,
			items_count = agg.count,
			updated_at = NOW()
		FROM (
			SELECT COALESCE(SUM(total_amount), 0) AS total, COUNT(*) AS count
			FROM billing_items
			WHERE batch_id = $1 AND deleted_at IS NULL
		) agg
		WHERE b.id = $1 AND b.deleted_at IS NULL
		RETURNING b.total_amount, b.items_count`,
		batchID).Scan(&total, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	return total, count, nil
}

func collectBatches(rows pgx.Rows) ([]*BillingBatch, error) {
	var result []*BillingBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// =========== Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

const itemCols = `id, batch_id, appointment_id, description, tuss_code,
	unit_price, quantity, discount, tax, total_amount,
	verified_by_operator, glossed_amount,
	version_id, created_at, updated_at, deleted_at`

func scanItem(row pgx.Row) (*BillingItem, error) {
	var i BillingItem
	err := row.Scan(&i.ID, &i.BatchID, &i.AppointmentID, &i.Description, &i.TUSSCode,
		&i.UnitPrice, &i.Quantity, &i.Discount, &i.Tax, &i.TotalAmount,
		&i.VerifiedByOperator, &i.GlossedAmount,
		&i.VersionID, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt)
	return &i, err
}

func (r *itemRepoPG) Create(ctx context.Context, i *BillingItem) error {
	i.ID = uuid.New()
	if i.Quantity == 0 {
		i.Quantity = 1
	}
	i.RecomputeTotal()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO billing_items (id, batch_id, appointment_id, description, tuss_code,
			unit_price, quantity, discount, tax, total_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		i.ID, i.BatchID, i.AppointmentID, i.Description, i.TUSSCode,
		i.UnitPrice, i.Quantity, i.Discount, i.Tax, i.TotalAmount)
	return err
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillingItem, error) {
	i, err := scanItem(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+itemCols+` FROM billing_items WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *itemRepoPG) Update(ctx context.Context, i *BillingItem) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE billing_items SET
			description = $3, unit_price = $4, quantity = $5,
			discount = $6, tax = $7, total_amount = $8,
			verified_by_operator = $9, glossed_amount = $10,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND deleted_at IS NULL`,
		i.ID, i.VersionID,
		i.Description, i.UnitPrice, i.Quantity,
		i.Discount, i.Tax, i.TotalAmount,
		i.VerifiedByOperator, i.GlossedAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrVersionConflict
	}
	i.VersionID++
	return nil
}

func (r *itemRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE billing_items SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *itemRepoPG) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*BillingItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+itemCols+` FROM billing_items
		WHERE batch_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*BillingItem
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, rows.Err()
}
