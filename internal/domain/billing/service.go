package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/domain/payment"
	"github.com/redecare/redecare/internal/platform/db"
	"github.com/redecare/redecare/internal/platform/events"
	"github.com/redecare/redecare/internal/platform/notification"
)

type Service struct {
	batches  BatchRepository
	items    ItemRepository
	source   AppointmentSource
	tx       db.Transactor
	bus      *events.Bus
	notifier notification.Notifier
	logger   zerolog.Logger
	dueDays  int
	now      func() time.Time
}

func NewService(batches BatchRepository, items ItemRepository, source AppointmentSource,
	tx db.Transactor, bus *events.Bus, notifier notification.Notifier,
	logger zerolog.Logger, paymentDueDays int) *Service {
	return &Service{
		batches:  batches,
		items:    items,
		source:   source,
		tx:       tx,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		dueDays:  paymentDueDays,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register subscribes the aggregator to payment events: a processed batch
// payment settles the batch, and item-level glosses mirror into the item's
// glossed amount for batch reporting.
func (s *Service) Register(bus *events.Bus) {
	bus.Subscribe(events.PaymentProcessed, s.onPaymentProcessed)
	bus.Subscribe(events.GlossApplied, func(ctx context.Context, evt events.Event) error {
		return s.onGloss(ctx, evt, 1)
	})
	bus.Subscribe(events.GlossReverted, func(ctx context.Context, evt events.Event) error {
		return s.onGloss(ctx, evt, -1)
	})
}

func (s *Service) onGloss(ctx context.Context, evt events.Event, sign float64) error {
	pe, ok := evt.Data.(events.PaymentEvent)
	if !ok || pe.PayableKind != events.PayableBillingItem {
		return nil
	}
	item, err := s.items.GetByID(ctx, pe.PayableID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	item.GlossedAmount = payment.Round(item.GlossedAmount + sign*pe.Amount)
	return s.items.Update(ctx, item)
}

func (s *Service) onPaymentProcessed(ctx context.Context, evt events.Event) error {
	pe, ok := evt.Data.(events.PaymentEvent)
	if !ok || pe.PayableKind != events.PayableBillingBatch {
		return nil
	}
	b, err := s.batches.GetByID(ctx, pe.PayableID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	b.MarkPaid(s.now())
	return s.batches.Update(ctx, b)
}

// Generate is the external-job entrypoint: it sweeps every provider with
// billable un-batched appointments in the period, finds or creates the
// provider's batch for that period, turns each appointment into an item and
// stamps the appointment with the batch. One transaction per provider, so one
// failing provider does not roll back the sweep.
func (s *Service) Generate(ctx context.Context, periodStart, periodEnd time.Time) ([]*BillingBatch, error) {
	if !periodEnd.After(periodStart) {
		return nil, fmt.Errorf("period end %s must be after start %s", periodEnd, periodStart)
	}

	providers, err := s.source.ListBillableProviders(ctx, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("list billable providers: %w", err)
	}

	var result []*BillingBatch
	for _, entity := range providers {
		batch, err := s.generateForEntity(ctx, entity, periodStart, periodEnd)
		if err != nil {
			s.logger.Error().Err(err).
				Str("entity_kind", entity.Kind).Int64("entity_id", entity.ID).
				Msg("batch generation failed for entity")
			continue
		}
		result = append(result, batch)
	}
	return result, nil
}

func (s *Service) generateForEntity(ctx context.Context, entity EntityRef, periodStart, periodEnd time.Time) (*BillingBatch, error) {
	var batch *BillingBatch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		batch, err = s.batches.GetByKey(ctx, entity, periodStart, periodEnd)
		if errors.Is(err, domain.ErrNotFound) {
			due := s.now().AddDate(0, 0, s.dueDays)
			batch = &BillingBatch{
				Entity:         entity,
				PeriodStart:    periodStart,
				PeriodEnd:      periodEnd,
				PaymentDueDate: &due,
			}
			err = s.batches.Create(ctx, batch)
		}
		if err != nil {
			return err
		}

		appts, err := s.source.ListEligibleUnbatched(ctx, entity, periodStart, periodEnd)
		if err != nil {
			return err
		}
		for _, a := range appts {
			apptID := a.ID
			item := &BillingItem{
				BatchID:       batch.ID,
				AppointmentID: &apptID,
				Description:   fmt.Sprintf("Procedure %s", a.TUSSCode),
				TUSSCode:      a.TUSSCode,
				UnitPrice:     a.Amount,
				Quantity:      1,
			}
			if err := s.items.Create(ctx, item); err != nil {
				return fmt.Errorf("create billing item: %w", err)
			}
			if err := s.source.AssignBatch(ctx, a.ID, batch.ID); err != nil {
				return err
			}
		}

		batch.TotalAmount, batch.ItemsCount, err = s.batches.RecomputeTotals(ctx, batch.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("batch_id", batch.ID.String()).
		Str("entity_kind", entity.Kind).Int64("entity_id", entity.ID).
		Int("items", batch.ItemsCount).Float64("total", batch.TotalAmount).
		Msg("billing batch generated")
	return batch, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*BillingBatch, error) {
	return s.batches.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*BillingBatch, int, error) {
	return s.batches.List(ctx, status, limit, offset)
}

func (s *Service) ListItems(ctx context.Context, batchID uuid.UUID) ([]*BillingItem, error) {
	return s.items.ListByBatch(ctx, batchID)
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*BillingItem, error) {
	return s.items.GetByID(ctx, id)
}

// RecomputeTotals re-derives the batch aggregates from its items.
func (s *Service) RecomputeTotals(ctx context.Context, batchID uuid.UUID) (*BillingBatch, error) {
	var batch *BillingBatch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, _, err := s.batches.RecomputeTotals(ctx, batchID); err != nil {
			return err
		}
		var err error
		batch, err = s.batches.GetByID(ctx, batchID)
		return err
	})
	return batch, err
}

func (s *Service) mutateBatch(ctx context.Context, id uuid.UUID, fn func(b *BillingBatch) error) (*BillingBatch, error) {
	var result *BillingBatch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.batches.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		if err := s.batches.Update(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	return result, err
}

func (s *Service) MarkProcessed(ctx context.Context, id uuid.UUID) (*BillingBatch, error) {
	return s.mutateBatch(ctx, id, func(b *BillingBatch) error {
		return b.MarkProcessed()
	})
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*BillingBatch, error) {
	var b *BillingBatch
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.mutateBatch(ctx, id, func(b *BillingBatch) error {
			return b.MarkCompleted()
		})
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.BatchCompleted, events.BatchEvent{
			BatchID:     b.ID,
			TotalAmount: b.TotalAmount,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("batch_id", id.String()).Msg("billing batch completed")
	s.notifier.Notify(events.BatchCompleted, b)
	return b, nil
}

func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID) (*BillingBatch, error) {
	return s.mutateBatch(ctx, id, func(b *BillingBatch) error {
		return b.MarkFailed()
	})
}

func (s *Service) IssueNFe(ctx context.Context, id uuid.UUID, number string) (*BillingBatch, error) {
	if number == "" {
		return nil, fmt.Errorf("nfe number is required")
	}
	return s.mutateBatch(ctx, id, func(b *BillingBatch) error {
		return b.IssueNFe(number)
	})
}

func (s *Service) AuthorizeNFe(ctx context.Context, id uuid.UUID, protocol string) (*BillingBatch, error) {
	return s.mutateBatch(ctx, id, func(b *BillingBatch) error {
		return b.AuthorizeNFe(protocol, s.now())
	})
}

func (s *Service) CancelNFe(ctx context.Context, id uuid.UUID) (*BillingBatch, error) {
	return s.mutateBatch(ctx, id, func(b *BillingBatch) error {
		return b.CancelNFe(s.now())
	})
}

func (s *Service) FailNFe(ctx context.Context, id uuid.UUID, message string) (*BillingBatch, error) {
	return s.mutateBatch(ctx, id, func(b *BillingBatch) error {
		return b.FailNFe(message)
	})
}

// ApplyVerifiedValue writes a verification outcome into the item price and
// recomputes the batch aggregates in full.
func (s *Service) ApplyVerifiedValue(ctx context.Context, itemID uuid.UUID, value float64, byOperator bool) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		item, err := s.items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		item.SetUnitPrice(value)
		if byOperator {
			item.VerifiedByOperator = true
		}
		if err := s.items.Update(ctx, item); err != nil {
			return err
		}
		_, _, err = s.batches.RecomputeTotals(ctx, item.BatchID)
		return err
	})
}

// RefreshLateness is the alerts-job entrypoint: it sweeps unpaid batches,
// recomputes their late bookkeeping and dispatches an overdue reminder for
// each newly or still late batch.
func (s *Service) RefreshLateness(ctx context.Context) (late int, err error) {
	batches, err := s.batches.ListUnpaidWithDueDate(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	for _, b := range batches {
		b.RefreshLateness(now)
		if !b.IsLate {
			continue
		}
		b.RecordReminder(now)
		if err := s.batches.Update(ctx, b); err != nil {
			s.logger.Error().Err(err).Str("batch_id", b.ID.String()).Msg("lateness update failed")
			continue
		}
		late++
		s.logger.Warn().
			Str("batch_id", b.ID.String()).
			Int("days_late", b.DaysLate).
			Int("reminders_sent", b.RemindersSent).
			Msg("billing batch overdue")
		s.notifier.Notify("billing.batch_overdue", b)
	}
	return late, nil
}
