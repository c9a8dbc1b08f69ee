package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestBus_PublishDispatchesInOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var calls []string
	bus.Subscribe(AppointmentCompleted, func(_ context.Context, evt Event) error {
		calls = append(calls, "first")
		return nil
	})
	bus.Subscribe(AppointmentCompleted, func(_ context.Context, evt Event) error {
		calls = append(calls, "second")
		return nil
	})

	if err := bus.Publish(context.Background(), AppointmentCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("expected [first second], got %v", calls)
	}
}

func TestBus_PublishNoSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	if err := bus.Publish(context.Background(), "nobody.cares", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBus_HandlerErrorAbortsPublish(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	boom := errors.New("boom")
	secondCalled := false
	bus.Subscribe(AppointmentCancelled, func(_ context.Context, _ Event) error {
		return boom
	})
	bus.Subscribe(AppointmentCancelled, func(_ context.Context, _ Event) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(context.Background(), AppointmentCancelled, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if secondCalled {
		t.Error("expected dispatch to stop at the failing handler")
	}
}

func TestBus_PayloadReachesHandler(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got Event
	bus.Subscribe(PaymentProcessed, func(_ context.Context, evt Event) error {
		got = evt
		return nil
	})

	payload := PaymentEvent{Amount: 450}
	if err := bus.Publish(context.Background(), PaymentProcessed, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pe, ok := got.Data.(PaymentEvent)
	if !ok || pe.Amount != 450 {
		t.Errorf("expected payment payload with amount 450, got %#v", got.Data)
	}
	if got.At.IsZero() {
		t.Error("expected event timestamp to be set")
	}
}
