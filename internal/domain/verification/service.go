package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/domain/appointment"
	"github.com/redecare/redecare/internal/domain/billing"
	"github.com/redecare/redecare/internal/domain/pricing"
	"github.com/redecare/redecare/internal/platform/db"
	"github.com/redecare/redecare/internal/platform/events"
)

// BillingAccessor is the slice of the billing side the engine needs: reading
// items and their batch, and cascading a settled value back into the item.
type BillingAccessor interface {
	GetItem(ctx context.Context, id uuid.UUID) (*billing.BillingItem, error)
	Get(ctx context.Context, id uuid.UUID) (*billing.BillingBatch, error)
	ApplyVerifiedValue(ctx context.Context, itemID uuid.UUID, value float64, byOperator bool) error
}

// AppointmentAccessor reads appointments for appointment-value disputes.
type AppointmentAccessor interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Service struct {
	repo     Repository
	billing  BillingAccessor
	appts    AppointmentAccessor
	resolver pricing.ExpectedPriceResolver
	tx       db.Transactor
	logger   zerolog.Logger
	// threshold is the default auto-approval tolerance in percent.
	threshold float64
	now       func() time.Time
}

func NewService(repo Repository, billing BillingAccessor, appts AppointmentAccessor,
	resolver pricing.ExpectedPriceResolver, tx db.Transactor,
	logger zerolog.Logger, autoApproveThreshold float64) *Service {
	return &Service{
		repo:      repo,
		billing:   billing,
		appts:     appts,
		resolver:  resolver,
		tx:        tx,
		logger:    logger,
		threshold: autoApproveThreshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ValueVerification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*ValueVerification, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// CreateFromBillingItem opens a verification for an item's unit price. The
// resolved expected price, when known, becomes the proposed verified value.
func (s *Service) CreateFromBillingItem(ctx context.Context, itemID uuid.UUID, requestedBy int64) (*ValueVerification, error) {
	item, err := s.billing.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	batch, err := s.billing.Get(ctx, item.BatchID)
	if err != nil {
		return nil, err
	}

	threshold := s.threshold
	v := &ValueVerification{
		Subject:              SubjectRef{Kind: events.PayableBillingItem, ID: item.ID},
		OriginalValue:        item.UnitPrice,
		AutoApproveThreshold: &threshold,
		RequestedBy:          requestedBy,
	}

	expected, ok, err := s.resolver.ExpectedPrice(ctx, item.TUSSCode,
		pricing.ProviderKey{Kind: batch.Entity.Kind, ID: batch.Entity.ID})
	if err != nil {
		return nil, err
	}
	if ok {
		v.VerifiedValue = &expected
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, v)
	}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("verification_id", v.ID.String()).Str("item_id", itemID.String()).
		Float64("original", v.OriginalValue).Msg("value verification opened for billing item")
	return v, nil
}

// CreateFromAppointment opens a verification for an appointment's amount.
func (s *Service) CreateFromAppointment(ctx context.Context, appointmentID uuid.UUID, requestedBy int64) (*ValueVerification, error) {
	a, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	threshold := s.threshold
	v := &ValueVerification{
		Subject:              SubjectRef{Kind: events.PayableAppointment, ID: a.ID},
		OriginalValue:        a.Amount,
		AutoApproveThreshold: &threshold,
		RequestedBy:          requestedBy,
	}

	expected, ok, err := s.resolver.ExpectedPrice(ctx, a.TUSSCode, a.Provider.PricingKey())
	if err != nil {
		return nil, err
	}
	if ok {
		v.VerifiedValue = &expected
	}

	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, v)
	}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("verification_id", v.ID.String()).
		Str("appointment_id", appointmentID.String()).Msg("value verification opened for appointment")
	return v, nil
}

// Verify settles the verification by a human and cascades the settled value
// into the linked billing item. A missing or non-item subject skips the
// cascade silently.
func (s *Service) Verify(ctx context.Context, id uuid.UUID, verifier int64, verifiedValue *float64, notes string) (*ValueVerification, error) {
	var v *ValueVerification
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := v.Verify(verifier, verifiedValue, notes, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		return s.cascade(ctx, v, true)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("verification_id", id.String()).Int64("verifier", verifier).
		Msg("value verification settled")
	return v, nil
}

// Reject settles negatively. Provisional values already written into the
// item are left as they are.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, verifier int64, notes string) (*ValueVerification, error) {
	var v *ValueVerification
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := v.Reject(verifier, notes, s.now()); err != nil {
			return err
		}
		return s.repo.Update(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// AutoApprove settles by machine when the deviation lies within tolerance,
// with the same billing-item cascade as Verify.
func (s *Service) AutoApprove(ctx context.Context, id uuid.UUID) (*ValueVerification, error) {
	var v *ValueVerification
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := v.AutoApprove(s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, v); err != nil {
			return err
		}
		return s.cascade(ctx, v, false)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("verification_id", id.String()).Msg("value verification auto-approved")
	return v, nil
}

func (s *Service) cascade(ctx context.Context, v *ValueVerification, byOperator bool) error {
	if v.Subject.Kind != events.PayableBillingItem || v.VerifiedValue == nil {
		return nil
	}
	err := s.billing.ApplyVerifiedValue(ctx, v.Subject.ID, *v.VerifiedValue, byOperator)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug().Str("verification_id", v.ID.String()).
			Msg("verification subject gone, cascade skipped")
		return nil
	}
	return err
}

// NeedsVerification runs the price-deviation heuristic for a billing item.
func (s *Service) NeedsVerification(ctx context.Context, itemID uuid.UUID) (bool, error) {
	item, err := s.billing.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}

	open, err := s.repo.HasOpenForSubject(ctx, SubjectRef{Kind: events.PayableBillingItem, ID: item.ID})
	if err != nil {
		return false, err
	}
	if open {
		return true, nil
	}

	batch, err := s.billing.Get(ctx, item.BatchID)
	if err != nil {
		return false, err
	}
	expected, ok, err := s.resolver.ExpectedPrice(ctx, item.TUSSCode,
		pricing.ProviderKey{Kind: batch.Entity.Kind, ID: batch.Entity.ID})
	if err != nil || !ok {
		return false, err
	}
	return item.NeedsValueVerification(expected, false), nil
}
