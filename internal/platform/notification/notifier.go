// Package notification delivers fire-and-forget notices after core
// mutations, as raw webhook posts and as templated email and SMS messages.
// Delivery results never feed back into core state; failures are logged,
// kept in the dispatch log, and dropped from the caller's point of view.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier posts mutation notices to a configured endpoint.
type Notifier interface {
	Notify(event string, payload interface{})
}

type webhookNotifier struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewWebhookNotifier returns a Notifier posting to endpoint. An empty
// endpoint yields a no-op notifier.
func NewWebhookNotifier(endpoint string, logger zerolog.Logger) Notifier {
	if endpoint == "" {
		return nopNotifier{}
	}
	return &webhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type notice struct {
	Event   string      `json:"event"`
	SentAt  time.Time   `json:"sent_at"`
	Payload interface{} `json:"payload,omitempty"`
}

// Notify posts asynchronously. The caller's transaction has already
// committed; a delivery failure must not surface to it.
func (n *webhookNotifier) Notify(event string, payload interface{}) {
	go n.deliver(notice{Event: event, SentAt: time.Now().UTC(), Payload: payload})
}

func (n *webhookNotifier) deliver(msg notice) {
	body, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error().Err(err).Str("event", msg.Event).Msg("marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Str("event", msg.Event).Msg("build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Str("event", msg.Event).Msg("notification delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Str("event", msg.Event).Msg("notification rejected")
		return
	}

	n.logger.Debug().Str("event", msg.Event).Msg("notification delivered")
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, interface{}) {}
