package notification

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel selects the transport a template renders for.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Template renders one outbound message for a mutation event. Body and
// Subject may reference payload fields as {field}; nested objects are
// addressed with a dot, as in {entity.kind}.
type Template struct {
	Event   string  `json:"event"`
	Channel Channel `json:"channel"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

// Message is one rendered delivery attempt, kept in the dispatch log so
// operators can inspect and retry failures.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	Event     string     `json:"event"`
	Channel   Channel    `json:"channel"`
	Recipient string     `json:"recipient,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Dispatcher turns mutation notices into rendered email and SMS messages.
// It implements Notifier, so services feed it through the same post-commit
// hook as the webhook: delivery is asynchronous and failures never reach
// the caller, they only land in the dispatch log.
type Dispatcher struct {
	email     EmailSender
	sms       SMSSender
	emailTo   string
	smsTo     string
	templates map[string][]Template
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	messages map[uuid.UUID]*Message
	order    []uuid.UUID

	wg sync.WaitGroup
}

// NewDispatcher wires the default templates. A nil sender or empty default
// recipient downgrades that channel's messages to skipped instead of
// disabling the log.
func NewDispatcher(email EmailSender, sms SMSSender, emailTo, smsTo string, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		email:     email,
		sms:       sms,
		emailTo:   emailTo,
		smsTo:     smsTo,
		templates: make(map[string][]Template),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		messages:  make(map[uuid.UUID]*Message),
	}
	d.registerDefaults()
	return d
}

// RegisterTemplate adds tpl to the set rendered for its event. Registering
// is not safe concurrently with Notify.
func (d *Dispatcher) RegisterTemplate(tpl Template) {
	d.templates[tpl.Event] = append(d.templates[tpl.Event], tpl)
}

func (d *Dispatcher) registerDefaults() {
	for _, tpl := range []Template{
		{
			Event:   "appointment.scheduled",
			Channel: ChannelEmail,
			Subject: "Appointment scheduled",
			Body:    "Appointment {id} with {provider.kind} {provider.id} is scheduled for {scheduled_at}. Procedure {tuss_code}, R$ {amount}.",
		},
		{
			Event:   "appointment.scheduled",
			Channel: ChannelSMS,
			Body:    "Appointment confirmed for {scheduled_at}. Procedure {tuss_code}.",
		},
		{
			Event:   "appointment.cancelled",
			Channel: ChannelEmail,
			Subject: "Appointment cancelled",
			Body:    "Appointment {id} scheduled for {scheduled_at} was cancelled. Notes: {cancel_notes}",
		},
		{
			Event:   "appointment.rescheduled",
			Channel: ChannelEmail,
			Subject: "Appointment rescheduled",
			Body:    "Rescheduling {number} moved your appointment. Amount changed from R$ {original_amount} to R$ {new_amount}. Reason: {reason}",
		},
		{
			Event:   "billing.batch_completed",
			Channel: ChannelEmail,
			Subject: "Billing batch closed",
			Body:    "Batch {id} for {entity.kind} {entity.id} closed with {items_count} items, totalling R$ {total_amount}.",
		},
		{
			Event:   "billing.batch_overdue",
			Channel: ChannelEmail,
			Subject: "Payment overdue",
			Body:    "Batch {id} for {entity.kind} {entity.id} is {days_late} days past due. R$ {total_amount} outstanding, reminder {reminders_sent}.",
		},
		{
			Event:   "billing.batch_overdue",
			Channel: ChannelSMS,
			Body:    "Batch {id}: payment {days_late} days overdue, R$ {total_amount}.",
		},
		{
			Event:   "payment.processed",
			Channel: ChannelEmail,
			Subject: "Payment processed",
			Body:    "Payment {reference} settled R$ {total_amount} via {method} for {payable.kind} {payable.id}.",
		},
		{
			Event:   "payment.refunded",
			Channel: ChannelEmail,
			Subject: "Refund issued",
			Body:    "A refund of R$ {amount} was issued for payment {payment_id}. Reason: {reason}",
		},
	} {
		d.RegisterTemplate(tpl)
	}
}

// Notify renders every template registered for event and delivers the
// results in the background. Events without templates are dropped.
func (d *Dispatcher) Notify(event string, payload interface{}) {
	tpls := d.templates[event]
	if len(tpls) == 0 {
		return
	}
	fields := flatten(payload)
	for _, tpl := range tpls {
		msg := &Message{
			ID:        uuid.New(),
			Event:     event,
			Channel:   tpl.Channel,
			Subject:   render(tpl.Subject, fields),
			Body:      render(tpl.Body, fields),
			CreatedAt: d.now(),
		}
		switch tpl.Channel {
		case ChannelEmail:
			msg.Recipient = d.emailTo
		case ChannelSMS:
			msg.Recipient = d.smsTo
		}
		d.record(msg)
		d.wg.Add(1)
		go func(id uuid.UUID) {
			defer d.wg.Done()
			d.deliver(id)
		}(msg.ID)
	}
}

func (d *Dispatcher) deliver(id uuid.UUID) {
	d.mu.Lock()
	msg, ok := d.messages[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	cp := *msg
	d.mu.Unlock()

	var err error
	switch {
	case cp.Recipient == "":
		err = errNoRecipient
	case cp.Channel == ChannelEmail && d.email != nil:
		err = d.email.SendEmail(cp.Recipient, cp.Subject, cp.Body)
	case cp.Channel == ChannelSMS && d.sms != nil:
		err = d.sms.SendSMS(cp.Recipient, cp.Body)
	default:
		err = errNoSender
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case err == errNoRecipient || err == errNoSender:
		msg.Status = StatusSkipped
		msg.Error = err.Error()
	case err != nil:
		msg.Status = StatusFailed
		msg.Error = err.Error()
		d.logger.Warn().Err(err).Str("event", msg.Event).Str("channel", string(msg.Channel)).Msg("notification delivery failed")
	default:
		sentAt := d.now()
		msg.Status = StatusSent
		msg.Error = ""
		msg.SentAt = &sentAt
		d.logger.Debug().Str("event", msg.Event).Str("channel", string(msg.Channel)).Msg("notification delivered")
	}
}

var (
	errNoRecipient = fmt.Errorf("no recipient configured")
	errNoSender    = fmt.Errorf("no sender configured")
)

func (d *Dispatcher) record(msg *Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[msg.ID] = msg
	d.order = append(d.order, msg.ID)
}

// Get returns a dispatched message by id, or false.
func (d *Dispatcher) Get(id uuid.UUID) (Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.messages[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// List returns the most recent messages, newest first, capped at limit.
func (d *Dispatcher) List(limit int) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Message, 0, limit)
	for i := len(d.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *d.messages[d.order[i]])
	}
	return out
}

// Stats counts messages per status.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := make(map[string]int)
	for _, msg := range d.messages {
		if msg.Status == "" {
			stats["pending"]++
			continue
		}
		stats[msg.Status]++
	}
	return stats
}

// Retry re-delivers a failed or skipped message synchronously.
func (d *Dispatcher) Retry(id uuid.UUID) (Message, bool) {
	d.mu.Lock()
	msg, ok := d.messages[id]
	if !ok || (msg.Status != StatusFailed && msg.Status != StatusSkipped) {
		d.mu.Unlock()
		return Message{}, false
	}
	d.mu.Unlock()

	d.deliver(id)
	return d.Get(id)
}

// wait blocks until in-flight deliveries finish. Tests use it to observe
// final statuses without sleeping.
func (d *Dispatcher) wait() {
	d.wg.Wait()
}

// flatten marshals payload through its JSON form and produces a string per
// field. One level of nesting is kept with dotted keys; deeper structure is
// dropped.
func flatten(payload interface{}) map[string]string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	fields := make(map[string]string)
	for k, v := range m {
		switch nested := v.(type) {
		case map[string]interface{}:
			for nk, nv := range nested {
				if s, ok := scalar(k+"."+nk, nv); ok {
					fields[k+"."+nk] = s
				}
			}
		default:
			if s, ok := scalar(k, v); ok {
				fields[k] = s
			}
		}
	}
	return fields
}

func scalar(key string, v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		if t == math.Trunc(t) && !strings.Contains(key, "amount") {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', 2, 64), true
	case nil:
		return "", false
	}
	return "", false
}

func render(tpl string, fields map[string]string) string {
	if tpl == "" || len(fields) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(fields)*2)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", fields[k])
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

type multiNotifier []Notifier

// Combine fans one Notify call out to several notifiers.
func Combine(notifiers ...Notifier) Notifier {
	var active multiNotifier
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, nop := n.(nopNotifier); nop {
			continue
		}
		active = append(active, n)
	}
	if len(active) == 0 {
		return nopNotifier{}
	}
	if len(active) == 1 {
		return active[0]
	}
	return active
}

func (m multiNotifier) Notify(event string, payload interface{}) {
	for _, n := range m {
		n.Notify(event, payload)
	}
}
