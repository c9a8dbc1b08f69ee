package solicitation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redecare/redecare/internal/platform/events"
)

// ActiveAppointmentCounter reports how many non-cancelled appointments still
// reference a solicitation. Implemented by the appointment repository.
type ActiveAppointmentCounter interface {
	CountActiveBySolicitation(ctx context.Context, solicitationID uuid.UUID) (int, error)
}

// Reconciler keeps solicitation status in step with appointment lifecycle
// events. The appointment service publishes; nothing in the appointment
// package writes solicitations directly.
type Reconciler struct {
	repo    Repository
	counter ActiveAppointmentCounter
	logger  zerolog.Logger
}

func NewReconciler(repo Repository, counter ActiveAppointmentCounter, logger zerolog.Logger) *Reconciler {
	return &Reconciler{repo: repo, counter: counter, logger: logger}
}

// Register subscribes the reconciler to the appointment events it reacts to.
func (r *Reconciler) Register(bus *events.Bus) {
	bus.Subscribe(events.AppointmentScheduled, r.onScheduled)
	bus.Subscribe(events.AppointmentCompleted, r.onCompleted)
	bus.Subscribe(events.AppointmentCancelled, r.onCancelled)
}

func (r *Reconciler) onScheduled(ctx context.Context, evt events.Event) error {
	data, ok := evt.Data.(events.AppointmentEvent)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", evt.Name, evt.Data)
	}
	return r.repo.UpdateStatus(ctx, data.SolicitationID, StatusScheduled)
}

func (r *Reconciler) onCompleted(ctx context.Context, evt events.Event) error {
	data, ok := evt.Data.(events.AppointmentEvent)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", evt.Name, evt.Data)
	}
	// Only attended completions close the solicitation.
	if data.PatientAttended == nil || !*data.PatientAttended {
		return nil
	}
	return r.repo.UpdateStatus(ctx, data.SolicitationID, StatusCompleted)
}

// onCancelled reopens the solicitation, but only when no other non-cancelled
// appointment remains for it.
func (r *Reconciler) onCancelled(ctx context.Context, evt events.Event) error {
	data, ok := evt.Data.(events.AppointmentEvent)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", evt.Name, evt.Data)
	}

	active, err := r.counter.CountActiveBySolicitation(ctx, data.SolicitationID)
	if err != nil {
		return fmt.Errorf("count active appointments: %w", err)
	}
	if active > 0 {
		r.logger.Debug().
			Str("solicitation_id", data.SolicitationID.String()).
			Int("active", active).
			Msg("solicitation kept scheduled after cancellation")
		return nil
	}

	return r.repo.UpdateStatus(ctx, data.SolicitationID, StatusPending)
}
