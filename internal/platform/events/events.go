// Package events is a synchronous in-process event bus. Mutating services
// publish domain events explicitly; reconcilers subscribe to them. Handlers
// run on the publisher's goroutine and context, so events published inside a
// unit of work join its transaction and can abort it.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event names.
const (
	AppointmentScheduled = "appointment.scheduled"
	AppointmentCompleted = "appointment.completed"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentMissed    = "appointment.missed"
	BatchCompleted       = "billing.batch_completed"
	PaymentProcessed     = "payment.processed"
	GlossApplied         = "payment.gloss_applied"
	GlossReverted        = "payment.gloss_reverted"
)

// Payable kinds carried by payment events.
const (
	PayableBillingBatch = "billing_batch"
	PayableBillingItem  = "billing_item"
	PayableAppointment  = "appointment"
)

// Event is a domain fact published after an aggregate mutation.
type Event struct {
	Name string
	At   time.Time
	Data interface{}
}

// AppointmentEvent is the payload of every appointment.* event.
type AppointmentEvent struct {
	AppointmentID   uuid.UUID
	SolicitationID  uuid.UUID
	PatientAttended *bool
}

// PaymentEvent is the payload of every payment.* event.
type PaymentEvent struct {
	PaymentID   uuid.UUID
	PayableKind string
	PayableID   uuid.UUID
	Amount      float64
}

// BatchEvent is the payload of billing.* events.
type BatchEvent struct {
	BatchID     uuid.UUID
	TotalAmount float64
}

// Handler consumes one event. A non-nil error aborts the publishing
// operation's unit of work.
type Handler func(ctx context.Context, evt Event) error

// Bus dispatches events to subscribed handlers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event. Not safe to call
// concurrently with Publish during startup wiring only by convention; the
// lock makes it safe regardless.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches the event synchronously. The first handler error is
// returned to the publisher so the enclosing transaction rolls back.
func (b *Bus) Publish(ctx context.Context, name string, data interface{}) error {
	b.mu.RLock()
	handlers := b.handlers[name]
	b.mu.RUnlock()

	evt := Event{Name: name, At: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.logger.Error().Err(err).Str("event", name).Msg("event handler failed")
			return fmt.Errorf("handle event %s: %w", name, err)
		}
	}

	b.logger.Debug().Str("event", name).Int("handlers", len(handlers)).Msg("event published")
	return nil
}
