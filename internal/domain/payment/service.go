package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/db"
	"github.com/redecare/redecare/internal/platform/events"
	"github.com/redecare/redecare/internal/platform/notification"
)

type Service struct {
	payments Repository
	glosses  GlossRepository
	refunds  RefundRepository
	tx       db.Transactor
	bus      *events.Bus
	notifier notification.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(payments Repository, glosses GlossRepository, refunds RefundRepository,
	tx db.Transactor, bus *events.Bus, notifier notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		payments: payments,
		glosses:  glosses,
		refunds:  refunds,
		tx:       tx,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures a new billing obligation falling due.
type CreateInput struct {
	Payable        PayableRef
	Amount         float64
	DiscountAmount float64
	// TotalAmount, when nil, defaults to Amount - DiscountAmount.
	TotalAmount *float64
}

// Create opens the ledger for a payable. Payments exist only through this
// path, never by direct construction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Payment, error) {
	if !in.Payable.Valid() {
		return nil, fmt.Errorf("invalid payable reference: %s/%s", in.Payable.Kind, in.Payable.ID)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if in.DiscountAmount < 0 || in.DiscountAmount > in.Amount {
		return nil, fmt.Errorf("discount must be between zero and the amount")
	}

	p := &Payment{
		Payable:        in.Payable,
		Reference:      NewReference(),
		Amount:         Round(in.Amount),
		DiscountAmount: Round(in.DiscountAmount),
		Status:         StatusPending,
	}
	if in.TotalAmount != nil {
		p.TotalAmount = Round(*in.TotalAmount)
	} else {
		p.TotalAmount = Round(p.Amount - p.DiscountAmount)
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.payments.Create(ctx, p)
	}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", p.ID.String()).Str("reference", p.Reference).
		Float64("total", p.TotalAmount).Msg("payment created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Payment, int, error) {
	return s.payments.List(ctx, status, limit, offset)
}

func (s *Service) ListGlosses(ctx context.Context, paymentID uuid.UUID) ([]*PaymentGloss, error) {
	return s.glosses.ListByPayment(ctx, paymentID)
}

func (s *Service) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]*PaymentRefund, error) {
	return s.refunds.ListByPayment(ctx, paymentID)
}

// Process settles a pending payment and announces it, letting the billing
// side mark the payable batch paid.
func (s *Service) Process(ctx context.Context, id uuid.UUID, actor int64, method string) (*Payment, error) {
	var p *Payment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := p.Process(method, s.now()); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.PaymentProcessed, events.PaymentEvent{
			PaymentID:   p.ID,
			PayableKind: p.Payable.Kind,
			PayableID:   p.Payable.ID,
			Amount:      p.TotalAmount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", id.String()).Int64("actor", actor).
		Str("method", method).Msg("payment processed")
	s.notifier.Notify(events.PaymentProcessed, p)
	return p, nil
}

// GlossInput captures a payer rejection to apply.
type GlossInput struct {
	Amount       float64
	Reason       string
	Code         string
	IsAppealable bool
}

// ApplyGloss creates the child gloss and adjusts the ledger by its amount in
// one unit of work, keeping parent and child exactly consistent.
func (s *Service) ApplyGloss(ctx context.Context, paymentID uuid.UUID, in GlossInput, actor int64) (*PaymentGloss, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("gloss amount must be positive")
	}
	if in.Reason == "" {
		return nil, fmt.Errorf("gloss reason is required")
	}

	var g *PaymentGloss
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}

		g = &PaymentGloss{
			PaymentID:    p.ID,
			Amount:       Round(in.Amount),
			Reason:       in.Reason,
			Code:         in.Code,
			Status:       GlossApplied,
			IsAppealable: in.IsAppealable,
			AppliedBy:    actor,
		}
		if err := s.glosses.Create(ctx, g); err != nil {
			return err
		}

		p.AddGloss(g.Amount)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.GlossApplied, events.PaymentEvent{
			PaymentID:   p.ID,
			PayableKind: p.Payable.Kind,
			PayableID:   p.Payable.ID,
			Amount:      g.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", paymentID.String()).Str("gloss_id", g.ID.String()).
		Float64("amount", g.Amount).Msg("gloss applied")
	return g, nil
}

// RevertGloss reverses an applied gloss out of the ledger.
func (s *Service) RevertGloss(ctx context.Context, glossID uuid.UUID, actor int64, notes string) (*PaymentGloss, error) {
	var g *PaymentGloss
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		g, err = s.glosses.GetByID(ctx, glossID)
		if err != nil {
			return err
		}
		if err := g.Revert(actor, notes, s.now()); err != nil {
			return err
		}
		if err := s.glosses.Update(ctx, g); err != nil {
			return err
		}

		p, err := s.payments.GetByID(ctx, g.PaymentID)
		if err != nil {
			return err
		}
		p.RemoveGloss(g.Amount)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.GlossReverted, events.PaymentEvent{
			PaymentID:   p.ID,
			PayableKind: p.Payable.Kind,
			PayableID:   p.Payable.ID,
			Amount:      g.Amount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("gloss_id", glossID.String()).Msg("gloss reverted")
	return g, nil
}

// MarkGlossAppealed disputes an applied, appealable gloss.
func (s *Service) MarkGlossAppealed(ctx context.Context, glossID uuid.UUID, actor int64, justification string) (*PaymentGloss, error) {
	var g *PaymentGloss
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		g, err = s.glosses.GetByID(ctx, glossID)
		if err != nil {
			return err
		}
		if err := g.MarkAsAppealed(actor, justification, s.now()); err != nil {
			return err
		}
		return s.glosses.Update(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// RefundInput captures a refund request.
type RefundInput struct {
	Amount float64
	Reason string
}

// Refund returns money to the payer. A request above the remaining refundable
// balance is a contract breach, not a business rejection: the whole unit of
// work aborts with zero ledger mutation.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, in RefundInput, actor int64) (*PaymentRefund, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive")
	}

	var re *PaymentRefund
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}

		refunded, err := s.refunds.SumCompleted(ctx, p.ID)
		if err != nil {
			return err
		}
		amount := Round(in.Amount)
		refundable := Round(p.TotalAmount - refunded)
		if amount > refundable {
			return domain.Invariant("refund %.2f exceeds refundable balance %.2f on payment %s",
				amount, refundable, p.ID)
		}

		now := s.now()
		re = &PaymentRefund{
			PaymentID:   p.ID,
			Amount:      amount,
			Reason:      in.Reason,
			Status:      RefundCompleted,
			ProcessedBy: &actor,
			ProcessedAt: &now,
		}
		if err := s.refunds.Create(ctx, re); err != nil {
			return err
		}

		if Round(refunded+amount) >= p.TotalAmount {
			p.Status = StatusRefunded
		} else {
			p.Status = StatusPartiallyRefunded
		}
		return s.payments.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", paymentID.String()).Float64("amount", re.Amount).
		Msg("payment refunded")
	s.notifier.Notify("payment.refunded", re)
	return re, nil
}
