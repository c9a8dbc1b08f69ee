package payment

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/events"
)

// Payment statuses.
const (
	StatusPending           = "pending"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusRefunded          = "refunded"
	StatusPartiallyRefunded = "partially_refunded"
)

// Gloss statuses.
const (
	GlossApplied  = "applied"
	GlossAppealed = "appealed"
	GlossReverted = "reverted"
)

// Refund statuses.
const (
	RefundPending   = "pending"
	RefundCompleted = "completed"
	RefundFailed    = "failed"
)

// Round truncates monetary values to cents. The ledger equation is always
// checked on rounded values.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

// PayableRef is the tagged union naming what a payment settles.
type PayableRef struct {
	Kind string    `db:"payable_kind" json:"kind"`
	ID   uuid.UUID `db:"payable_id" json:"id"`
}

func (p PayableRef) Valid() bool {
	switch p.Kind {
	case events.PayableBillingBatch, events.PayableBillingItem, events.PayableAppointment:
		return p.ID != uuid.Nil
	}
	return false
}

// Payment is the per-payable monetary ledger. The equation
// TotalAmount = Amount - DiscountAmount - GlossAmount holds after every
// operation; any mutation of the parts goes through Recompute.
type Payment struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Payable   PayableRef `json:"payable"`
	Reference string     `db:"reference" json:"reference"`

	Amount         float64 `db:"amount" json:"amount"`
	DiscountAmount float64 `db:"discount_amount" json:"discount_amount"`
	GlossAmount    float64 `db:"gloss_amount" json:"gloss_amount"`
	TotalAmount    float64 `db:"total_amount" json:"total_amount"`

	Status string     `db:"status" json:"status"`
	Method string     `db:"method" json:"method,omitempty"`
	PaidAt *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// NewReference mints a fresh unique payment token.
func NewReference() string {
	return "PAY-" + uuid.NewString()
}

// Recompute re-derives the ledger total from its parts.
func (p *Payment) Recompute() {
	p.TotalAmount = Round(p.Amount - p.DiscountAmount - p.GlossAmount)
}

// Process moves pending → completed and stamps the settlement.
func (p *Payment) Process(method string, now time.Time) error {
	if p.Status != StatusPending {
		return domain.NewTransitionError("payment", p.Status, "process")
	}
	p.Status = StatusCompleted
	p.Method = method
	p.PaidAt = &now
	return nil
}

// MarkFailed moves pending → failed.
func (p *Payment) MarkFailed() error {
	if p.Status != StatusPending {
		return domain.NewTransitionError("payment", p.Status, "fail")
	}
	p.Status = StatusFailed
	return nil
}

// AddGloss adjusts the ledger by the gloss delta. The delta must stay exactly
// consistent with the child record's own amount.
func (p *Payment) AddGloss(amount float64) {
	p.GlossAmount = Round(p.GlossAmount + amount)
	p.Recompute()
}

// RemoveGloss reverses a reverted gloss out of the ledger.
func (p *Payment) RemoveGloss(amount float64) {
	p.GlossAmount = Round(p.GlossAmount - amount)
	p.Recompute()
}

// PaymentGloss is a payer-side rejection of part of the billed amount,
// child of exactly one Payment.
type PaymentGloss struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PaymentID uuid.UUID `db:"payment_id" json:"payment_id"`

	Amount       float64 `db:"amount" json:"amount"`
	Reason       string  `db:"reason" json:"reason"`
	Code         string  `db:"code" json:"code,omitempty"`
	Status       string  `db:"status" json:"status"`
	IsAppealable bool    `db:"is_appealable" json:"is_appealable"`

	AppliedBy     int64      `db:"applied_by" json:"applied_by"`
	AppealedBy    *int64     `db:"appealed_by" json:"appealed_by,omitempty"`
	AppealedAt    *time.Time `db:"appealed_at" json:"appealed_at,omitempty"`
	Justification string     `db:"justification" json:"justification,omitempty"`
	RevertedBy    *int64     `db:"reverted_by" json:"reverted_by,omitempty"`
	RevertedAt    *time.Time `db:"reverted_at" json:"reverted_at,omitempty"`
	RevertNotes   string     `db:"revert_notes" json:"revert_notes,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// MarkAsAppealed moves applied → appealed for an appealable gloss.
func (g *PaymentGloss) MarkAsAppealed(actor int64, justification string, now time.Time) error {
	if g.Status != GlossApplied {
		return domain.NewTransitionError("gloss", g.Status, "appeal")
	}
	if !g.IsAppealable {
		return domain.Invariant("gloss %s is not appealable", g.ID)
	}
	g.Status = GlossAppealed
	g.AppealedBy = &actor
	g.AppealedAt = &now
	g.Justification = justification
	return nil
}

// Revert is legal only from applied. An appealed gloss stays frozen until the
// payer answers the appeal.
func (g *PaymentGloss) Revert(actor int64, notes string, now time.Time) error {
	if g.Status != GlossApplied {
		return domain.NewTransitionError("gloss", g.Status, "revert")
	}
	g.Status = GlossReverted
	g.RevertedBy = &actor
	g.RevertedAt = &now
	g.RevertNotes = notes
	return nil
}

// PaymentRefund returns money to the payer, child of exactly one Payment.
// Its amount is bounded by the remaining refundable balance at creation.
type PaymentRefund struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PaymentID uuid.UUID `db:"payment_id" json:"payment_id"`

	Amount float64 `db:"amount" json:"amount"`
	Reason string  `db:"reason" json:"reason,omitempty"`
	Status string  `db:"status" json:"status"`

	ProcessedBy *int64     `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
