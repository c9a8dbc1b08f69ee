package notification

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeEmailSender struct {
	mu       sync.Mutex
	err      error
	subjects []string
	bodies   []string
}

func (f *fakeEmailSender) SendEmail(_, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakeSMSSender struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeSMSSender) SendSMS(_, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeEmailSender, *fakeSMSSender) {
	email := &fakeEmailSender{}
	sms := &fakeSMSSender{}
	return NewDispatcher(email, sms, "ops@redecare.example", "+5511999990000", zerolog.Nop()), email, sms
}

func TestNotifyRendersPaymentTemplate(t *testing.T) {
	d, email, _ := newTestDispatcher()

	d.Notify("payment.processed", struct {
		Reference   string  `json:"reference"`
		TotalAmount float64 `json:"total_amount"`
		Method      string  `json:"method"`
		Payable     struct {
			Kind string `json:"kind"`
			ID   string `json:"id"`
		} `json:"payable"`
	}{
		Reference:   "PAY-2025-000042",
		TotalAmount: 1500,
		Method:      "pix",
		Payable: struct {
			Kind string `json:"kind"`
			ID   string `json:"id"`
		}{Kind: "billing_batch", ID: "b1f6"},
	})
	d.wait()

	if len(email.bodies) != 1 {
		t.Fatalf("expected one email, got %d", len(email.bodies))
	}
	if email.subjects[0] != "Payment processed" {
		t.Errorf("subject = %q", email.subjects[0])
	}
	body := email.bodies[0]
	for _, want := range []string{"PAY-2025-000042", "R$ 1500.00", "pix", "billing_batch b1f6"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestNotifyFansOutPerChannel(t *testing.T) {
	d, email, sms := newTestDispatcher()

	d.Notify("billing.batch_overdue", struct {
		ID       string `json:"id"`
		DaysLate int    `json:"days_late"`
		Entity   struct {
			Kind string `json:"kind"`
			ID   int64  `json:"id"`
		} `json:"entity"`
		TotalAmount   float64 `json:"total_amount"`
		RemindersSent int     `json:"reminders_sent"`
	}{ID: "a1", DaysLate: 7, TotalAmount: 320.5, RemindersSent: 2})
	d.wait()

	if len(email.bodies) != 1 || len(sms.bodies) != 1 {
		t.Fatalf("emails = %d, sms = %d, want 1 and 1", len(email.bodies), len(sms.bodies))
	}
	if !strings.Contains(sms.bodies[0], "7 days overdue") {
		t.Errorf("sms body = %q", sms.bodies[0])
	}
	if !strings.Contains(email.bodies[0], "reminder 2") {
		t.Errorf("email body = %q", email.bodies[0])
	}
	// Counts stay integers, money gets cents.
	if !strings.Contains(email.bodies[0], "R$ 320.50") {
		t.Errorf("email body = %q", email.bodies[0])
	}
}

func TestNotifyUnknownEventIsDropped(t *testing.T) {
	d, email, sms := newTestDispatcher()

	d.Notify("appointment.completed", map[string]interface{}{"id": "x"})
	d.wait()

	if len(email.bodies) != 0 || len(sms.bodies) != 0 {
		t.Error("unregistered event produced deliveries")
	}
	if len(d.List(10)) != 0 {
		t.Error("unregistered event was logged")
	}
}

func TestNotifyWithoutSenderSkips(t *testing.T) {
	d := NewDispatcher(nil, nil, "ops@redecare.example", "", zerolog.Nop())

	d.Notify("payment.refunded", map[string]interface{}{"amount": 10})
	d.wait()

	msgs := d.List(10)
	if len(msgs) != 1 {
		t.Fatalf("expected one logged message, got %d", len(msgs))
	}
	if msgs[0].Status != StatusSkipped {
		t.Errorf("status = %q, want %q", msgs[0].Status, StatusSkipped)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	d, email, _ := newTestDispatcher()
	email.err = errors.New("relay unavailable")

	d.Notify("payment.refunded", map[string]interface{}{
		"amount": 25.5, "payment_id": "p1", "reason": "duplicate charge",
	})
	d.wait()

	msgs := d.List(10)
	if len(msgs) != 1 || msgs[0].Status != StatusFailed {
		t.Fatalf("expected one failed message, got %+v", msgs)
	}

	email.mu.Lock()
	email.err = nil
	email.mu.Unlock()

	retried, ok := d.Retry(msgs[0].ID)
	if !ok {
		t.Fatal("retry refused")
	}
	if retried.Status != StatusSent || retried.SentAt == nil {
		t.Errorf("retried message = %+v", retried)
	}
	if retried.Error != "" {
		t.Errorf("error not cleared: %q", retried.Error)
	}

	// A sent message is not retryable again.
	if _, ok := d.Retry(retried.ID); ok {
		t.Error("retry accepted a sent message")
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	d, email, _ := newTestDispatcher()
	email.err = errors.New("relay unavailable")

	d.Notify("payment.refunded", map[string]interface{}{"amount": 1})
	d.Notify("payment.refunded", map[string]interface{}{"amount": 2})
	d.wait()

	email.mu.Lock()
	email.err = nil
	email.mu.Unlock()
	d.Notify("payment.refunded", map[string]interface{}{"amount": 3})
	d.wait()

	stats := d.Stats()
	if stats[StatusFailed] != 2 || stats[StatusSent] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestCombineFansOut(t *testing.T) {
	var first, second []string
	a := notifierFunc(func(event string, _ interface{}) { first = append(first, event) })
	b := notifierFunc(func(event string, _ interface{}) { second = append(second, event) })

	n := Combine(a, nil, NewWebhookNotifier("", zerolog.Nop()), b)
	n.Notify("appointment.scheduled", nil)

	if len(first) != 1 || len(second) != 1 {
		t.Errorf("fan-out reached %d and %d notifiers", len(first), len(second))
	}
}

func TestCombineCollapsesToNop(t *testing.T) {
	n := Combine(nil, NewWebhookNotifier("", zerolog.Nop()))
	if _, ok := n.(nopNotifier); !ok {
		t.Errorf("expected nop notifier, got %T", n)
	}
	n.Notify("appointment.scheduled", nil)
}

type notifierFunc func(event string, payload interface{})

func (f notifierFunc) Notify(event string, payload interface{}) { f(event, payload) }
