package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type BatchRepository interface {
	Create(ctx context.Context, b *BillingBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillingBatch, error)
	// GetByKey finds the non-deleted batch for (entity, period).
	GetByKey(ctx context.Context, entity EntityRef, periodStart, periodEnd time.Time) (*BillingBatch, error)
	Update(ctx context.Context, b *BillingBatch) error
	List(ctx context.Context, status string, limit, offset int) ([]*BillingBatch, int, error)
	// ListUnpaidWithDueDate returns batches still awaiting payment that carry
	// a due date, for the lateness refresh job.
	ListUnpaidWithDueDate(ctx context.Context) ([]*BillingBatch, error)
	// RecomputeTotals re-derives total_amount and items_count as a full sum
	// over the batch's non-deleted items and returns the fresh values.
	RecomputeTotals(ctx context.Context, batchID uuid.UUID) (total float64, count int, err error)
}

type ItemRepository interface {
	Create(ctx context.Context, i *BillingItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillingItem, error)
	Update(ctx context.Context, i *BillingItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*BillingItem, error)
}
