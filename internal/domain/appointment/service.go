package appointment

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

// Sequence name for rescheduling numbers.
const reschedulingSequence = "rescheduling"

type Service struct {
	appts    Repository
	resched  ReschedulingRepository
	seq      db.SequenceAllocator
	tx       db.Transactor
	bus      *events.Bus
	notifier notification.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(appts Repository, resched ReschedulingRepository, seq db.SequenceAllocator,
	tx db.Transactor, bus *events.Bus, notifier notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		appts:    appts,
		resched:  resched,
		seq:      seq,
		tx:       tx,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Schedule creates an appointment for a solicitation and moves the
// solicitation to scheduled through the event bus.
func (s *Service) Schedule(ctx context.Context, a *Appointment) error {
	if a.SolicitationID == uuid.Nil {
		return fmt.Errorf("solicitation_id is required")
	}
	if !a.Provider.Valid() {
		return fmt.Errorf("invalid provider reference: %s/%d", a.Provider.Kind, a.Provider.ID)
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("scheduled_at is required")
	}
	a.Status = StatusScheduled
	if a.GuideStatus == "" {
		a.GuideStatus = GuidePending
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.appts.Create(ctx, a); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return s.bus.Publish(ctx, events.AppointmentScheduled, events.AppointmentEvent{
			AppointmentID:  a.ID,
			SolicitationID: a.SolicitationID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Msg("appointment scheduled")
	s.notifier.Notify(events.AppointmentScheduled, a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.List(ctx, status, limit, offset)
}

// mutate loads the appointment, applies fn and persists, all in one unit of
// work. fn returning an error aborts with the aggregate untouched.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(a *Appointment) error) (*Appointment, error) {
	var result *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		if err := s.appts.Update(ctx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	return result, err
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor int64) (*Appointment, error) {
	a, err := s.mutate(ctx, id, func(a *Appointment) error {
		return a.Confirm(actor, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Int64("actor", actor).Msg("appointment confirmed")
	return a, nil
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor int64) (*Appointment, error) {
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.mutate(ctx, id, func(a *Appointment) error {
			return a.Complete(actor, s.now())
		})
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.AppointmentCompleted, events.AppointmentEvent{
			AppointmentID:   a.ID,
			SolicitationID:  a.SolicitationID,
			PatientAttended: a.PatientAttended,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment completed")
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor int64, notes string) (*Appointment, error) {
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.mutate(ctx, id, func(a *Appointment) error {
			return a.Cancel(actor, notes, s.now())
		})
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.AppointmentCancelled, events.AppointmentEvent{
			AppointmentID:  a.ID,
			SolicitationID: a.SolicitationID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	s.notifier.Notify(events.AppointmentCancelled, a)
	return a, nil
}

func (s *Service) MarkAsMissed(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.mutate(ctx, id, func(a *Appointment) error {
			return a.MarkAsMissed()
		})
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.AppointmentMissed, events.AppointmentEvent{
			AppointmentID:   a.ID,
			SolicitationID:  a.SolicitationID,
			PatientAttended: a.PatientAttended,
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// MarkAsAttended records operator-confirmed attendance, forcing completed.
func (s *Service) MarkAsAttended(ctx context.Context, id uuid.UUID, actor int64, notes string) (*Appointment, error) {
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.mutate(ctx, id, func(a *Appointment) error {
			a.MarkAsAttended(actor, notes, s.now())
			return nil
		})
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.AppointmentCompleted, events.AppointmentEvent{
			AppointmentID:   a.ID,
			SolicitationID:  a.SolicitationID,
			PatientAttended: a.PatientAttended,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Int64("actor", actor).Msg("attendance recorded")
	return a, nil
}

func (s *Service) MarkAsMissedAttendance(ctx context.Context, id uuid.UUID, actor int64, notes string) (*Appointment, error) {
	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.mutate(ctx, id, func(a *Appointment) error {
			a.MarkAsMissedAttendance(notes)
			return nil
		})
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, events.AppointmentMissed, events.AppointmentEvent{
			AppointmentID:   a.ID,
			SolicitationID:  a.SolicitationID,
			PatientAttended: a.PatientAttended,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", id.String()).Int64("actor", actor).Msg("missed attendance recorded")
	return a, nil
}

// RescheduleInput captures a reschedule request.
type RescheduleInput struct {
	NewDate           time.Time
	RequestedBy       int64
	Reason            string
	ReasonDescription string
	NewProvider       *ProviderRef
	Notes             string
	NewAmount         *float64
}

// Reschedule clones the appointment into a fresh scheduled one, records the
// numbered rescheduling and cancels the original, in a single unit of work.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, in RescheduleInput) (*Rescheduling, *Appointment, error) {
	if !validReasons[in.Reason] {
		return nil, nil, fmt.Errorf("invalid rescheduling reason: %s", in.Reason)
	}
	if in.NewDate.IsZero() {
		return nil, nil, fmt.Errorf("new date is required")
	}
	if in.NewProvider != nil && !in.NewProvider.Valid() {
		return nil, nil, fmt.Errorf("invalid provider reference: %s/%d", in.NewProvider.Kind, in.NewProvider.ID)
	}

	var resched *Rescheduling
	var replacement *Appointment

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		original, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()

		// Guard first so a terminal original fails before any write.
		if original.IsTerminal() {
			return domain.NewTransitionError("appointment", original.Status, "reschedule")
		}

		clone := original.CloneForReschedule(in.NewDate, in.NewProvider)
		if in.NewAmount != nil {
			clone.Amount = *in.NewAmount
		}
		if err := s.appts.Create(ctx, clone); err != nil {
			return fmt.Errorf("create replacement appointment: %w", err)
		}

		seq, err := s.seq.Next(ctx, reschedulingSequence, now.Year())
		if err != nil {
			return err
		}

		resched = &Rescheduling{
			Number:                FormatNumber(now.Year(), seq),
			OriginalAppointmentID: original.ID,
			NewAppointmentID:      clone.ID,
			Reason:                in.Reason,
			ReasonDescription:     in.ReasonDescription,
			RequestedBy:           in.RequestedBy,
			Notes:                 in.Notes,
			FinancialImpact:       clone.Amount != original.Amount,
			OriginalAmount:        original.Amount,
			NewAmount:             clone.Amount,
			ApprovalStatus:        ApprovalPending,
		}
		if err := s.resched.Create(ctx, resched); err != nil {
			return fmt.Errorf("create rescheduling record: %w", err)
		}

		note := fmt.Sprintf("Rescheduled to %s under %s (%s)",
			in.NewDate.Format("2006-01-02 15:04"), resched.Number, in.Reason)
		if err := original.Cancel(in.RequestedBy, note, now); err != nil {
			return err
		}
		if err := s.appts.Update(ctx, original); err != nil {
			return err
		}

		if err := s.bus.Publish(ctx, events.AppointmentScheduled, events.AppointmentEvent{
			AppointmentID:  clone.ID,
			SolicitationID: clone.SolicitationID,
		}); err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, events.AppointmentCancelled, events.AppointmentEvent{
			AppointmentID:  original.ID,
			SolicitationID: original.SolicitationID,
		}); err != nil {
			return err
		}

		replacement = clone
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("number", resched.Number).
		Str("original_id", id.String()).
		Str("new_id", replacement.ID.String()).
		Msg("appointment rescheduled")
	s.notifier.Notify("appointment.rescheduled", resched)
	return resched, replacement, nil
}

// -- Rescheduling approval --

func (s *Service) ApproveRescheduling(ctx context.Context, id uuid.UUID, actor int64, notes string) (*Rescheduling, error) {
	return s.mutateRescheduling(ctx, id, func(r *Rescheduling) error {
		return r.Approve(actor, notes, s.now())
	})
}

func (s *Service) RejectRescheduling(ctx context.Context, id uuid.UUID, actor int64, notes string) (*Rescheduling, error) {
	return s.mutateRescheduling(ctx, id, func(r *Rescheduling) error {
		return r.Reject(actor, notes, s.now())
	})
}

func (s *Service) CompleteRescheduling(ctx context.Context, id uuid.UUID, actor int64) (*Rescheduling, error) {
	return s.mutateRescheduling(ctx, id, func(r *Rescheduling) error {
		return r.Complete(actor, s.now())
	})
}

func (s *Service) MarkWhatsAppSent(ctx context.Context, id uuid.UUID) (*Rescheduling, error) {
	return s.mutateRescheduling(ctx, id, func(r *Rescheduling) error {
		r.MarkWhatsAppSent(s.now())
		return nil
	})
}

func (s *Service) GetRescheduling(ctx context.Context, id uuid.UUID) (*Rescheduling, error) {
	return s.resched.GetByID(ctx, id)
}

func (s *Service) ListReschedulings(ctx context.Context, approvalStatus string, limit, offset int) ([]*Rescheduling, int, error) {
	return s.resched.List(ctx, approvalStatus, limit, offset)
}

func (s *Service) mutateRescheduling(ctx context.Context, id uuid.UUID, fn func(r *Rescheduling) error) (*Rescheduling, error) {
	var result *Rescheduling
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.resched.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if err := s.resched.Update(ctx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
