package payment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	List(ctx context.Context, status string, limit, offset int) ([]*Payment, int, error)
	ListByPayable(ctx context.Context, payable PayableRef) ([]*Payment, error)
}

type GlossRepository interface {
	Create(ctx context.Context, g *PaymentGloss) error
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentGloss, error)
	Update(ctx context.Context, g *PaymentGloss) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*PaymentGloss, error)
	// SumNonReverted totals the applied and appealed gloss amounts of a
	// payment; it must always equal the payment's GlossAmount.
	SumNonReverted(ctx context.Context, paymentID uuid.UUID) (float64, error)
}

type RefundRepository interface {
	Create(ctx context.Context, r *PaymentRefund) error
	GetByID(ctx context.Context, id uuid.UUID) (*PaymentRefund, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*PaymentRefund, error)
	// SumCompleted totals the completed refunds of a payment, the base of the
	// refundable-balance bound.
	SumCompleted(ctx context.Context, paymentID uuid.UUID) (float64, error)
}
