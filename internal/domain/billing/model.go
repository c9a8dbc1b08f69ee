package billing

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/domain/pricing"
)

// Batch statuses.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Fiscal document (NFe) sub-statuses, tracked independently of the batch
// lifecycle and item-level verification.
const (
	NFePending    = "pending"
	NFeIssued     = "issued"
	NFeAuthorized = "authorized"
	NFeCancelled  = "cancelled"
	NFeError      = "error"
)

// Batch payment statuses.
const (
	PayPending = "pending"
	PayPaid    = "paid"
	PayOverdue = "overdue"
)

// Deviation above which an item price needs human verification, in percent.
const priceDeviationLimit = 10.0

// EntityRef is the tagged union naming the billed provider entity.
type EntityRef struct {
	Kind string `db:"entity_kind" json:"kind"`
	ID   int64  `db:"entity_id" json:"id"`
}

func (e EntityRef) Valid() bool {
	return (e.Kind == pricing.KindClinic || e.Kind == pricing.KindProfessional) && e.ID > 0
}

// BillingBatch groups the billable items of one provider entity over one
// reference period. TotalAmount and ItemsCount are derived aggregates,
// recomputed in full over non-deleted items whenever any item total changes.
type BillingBatch struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Entity      EntityRef `json:"entity"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`
	Status      string    `db:"status" json:"status"`

	TotalAmount float64 `db:"total_amount" json:"total_amount"`
	ItemsCount  int     `db:"items_count" json:"items_count"`

	NFeStatus       string     `db:"nfe_status" json:"nfe_status"`
	NFeNumber       string     `db:"nfe_number" json:"nfe_number,omitempty"`
	NFeProtocol     string     `db:"nfe_protocol" json:"nfe_protocol,omitempty"`
	NFeAuthorizedAt *time.Time `db:"nfe_authorized_at" json:"nfe_authorized_at,omitempty"`
	NFeCancelledAt  *time.Time `db:"nfe_cancelled_at" json:"nfe_cancelled_at,omitempty"`
	NFeError        string     `db:"nfe_error" json:"nfe_error,omitempty"`

	PaymentStatus  string     `db:"payment_status" json:"payment_status"`
	PaymentDueDate *time.Time `db:"payment_due_date" json:"payment_due_date,omitempty"`
	PaidAt         *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	IsLate         bool       `db:"is_late" json:"is_late"`
	DaysLate       int        `db:"days_late" json:"days_late"`
	RemindersSent  int        `db:"reminders_sent" json:"reminders_sent"`
	LastReminderAt *time.Time `db:"last_reminder_at" json:"last_reminder_at,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// MarkProcessed moves pending → processed.
func (b *BillingBatch) MarkProcessed() error {
	if b.Status != StatusPending {
		return domain.NewTransitionError("billing batch", b.Status, "process")
	}
	b.Status = StatusProcessed
	return nil
}

// MarkCompleted moves processed → completed.
func (b *BillingBatch) MarkCompleted() error {
	if b.Status != StatusProcessed {
		return domain.NewTransitionError("billing batch", b.Status, "complete")
	}
	b.Status = StatusCompleted
	return nil
}

// MarkFailed is the parallel failure branch, reachable from pending or
// processed.
func (b *BillingBatch) MarkFailed() error {
	if b.Status != StatusPending && b.Status != StatusProcessed {
		return domain.NewTransitionError("billing batch", b.Status, "fail")
	}
	b.Status = StatusFailed
	return nil
}

// IssueNFe moves the fiscal document pending → issued.
func (b *BillingBatch) IssueNFe(number string) error {
	if b.NFeStatus != NFePending {
		return domain.NewTransitionError("nfe", b.NFeStatus, "issue")
	}
	b.NFeStatus = NFeIssued
	b.NFeNumber = number
	b.NFeError = ""
	return nil
}

// AuthorizeNFe moves issued → authorized, recording the clearance protocol.
func (b *BillingBatch) AuthorizeNFe(protocol string, now time.Time) error {
	if b.NFeStatus != NFeIssued {
		return domain.NewTransitionError("nfe", b.NFeStatus, "authorize")
	}
	b.NFeStatus = NFeAuthorized
	b.NFeProtocol = protocol
	b.NFeAuthorizedAt = &now
	return nil
}

// CancelNFe cancels an issued or authorized document.
func (b *BillingBatch) CancelNFe(now time.Time) error {
	if b.NFeStatus != NFeIssued && b.NFeStatus != NFeAuthorized {
		return domain.NewTransitionError("nfe", b.NFeStatus, "cancel")
	}
	b.NFeStatus = NFeCancelled
	b.NFeCancelledAt = &now
	return nil
}

// FailNFe records an issuance or authorization error.
func (b *BillingBatch) FailNFe(message string) error {
	if b.NFeStatus != NFePending && b.NFeStatus != NFeIssued {
		return domain.NewTransitionError("nfe", b.NFeStatus, "fail")
	}
	b.NFeStatus = NFeError
	b.NFeError = message
	return nil
}

// MarkPaid settles the batch and clears the late flags.
func (b *BillingBatch) MarkPaid(now time.Time) {
	b.PaymentStatus = PayPaid
	b.PaidAt = &now
	b.IsLate = false
	b.DaysLate = 0
}

// RefreshLateness recomputes the late bookkeeping from the due date. Paid
// batches and batches without a due date are never late.
func (b *BillingBatch) RefreshLateness(now time.Time) {
	if b.PaymentStatus == PayPaid || b.PaymentDueDate == nil {
		return
	}
	if now.Before(*b.PaymentDueDate) {
		b.IsLate = false
		b.DaysLate = 0
		return
	}
	b.PaymentStatus = PayOverdue
	b.IsLate = true
	b.DaysLate = int(now.Sub(*b.PaymentDueDate).Hours() / 24)
}

// RecordReminder counts an overdue reminder dispatch.
func (b *BillingBatch) RecordReminder(now time.Time) {
	b.RemindersSent++
	b.LastReminderAt = &now
}

// BillingItem is one billable line of a batch, normally derived from a
// completed attended appointment.
type BillingItem struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	BatchID       uuid.UUID  `db:"batch_id" json:"batch_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Description   string     `db:"description" json:"description"`
	TUSSCode      string     `db:"tuss_code" json:"tuss_code"`

	UnitPrice   float64 `db:"unit_price" json:"unit_price"`
	Quantity    int     `db:"quantity" json:"quantity"`
	Discount    float64 `db:"discount" json:"discount"`
	Tax         float64 `db:"tax" json:"tax"`
	TotalAmount float64 `db:"total_amount" json:"total_amount"`

	VerifiedByOperator bool    `db:"verified_by_operator" json:"verified_by_operator"`
	GlossedAmount      float64 `db:"glossed_amount" json:"glossed_amount"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// RecomputeTotal re-derives the line total from its parts.
func (i *BillingItem) RecomputeTotal() {
	i.TotalAmount = i.UnitPrice*float64(i.Quantity) - i.Discount + i.Tax
}

// SetUnitPrice applies a verified unit price and recomputes the total.
func (i *BillingItem) SetUnitPrice(price float64) {
	i.UnitPrice = price
	i.RecomputeTotal()
}

// NeedsValueVerification reports whether the item price must go through
// verification: either an open verification already exists, or the resolved
// expected price deviates from the unit price by more than the limit.
func (i *BillingItem) NeedsValueVerification(expected float64, hasOpenVerification bool) bool {
	if hasOpenVerification {
		return true
	}
	if expected <= 0 {
		return false
	}
	deviation := math.Abs(expected-i.UnitPrice) / expected * 100
	return deviation > priceDeviationLimit
}
