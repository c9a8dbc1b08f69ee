package notification

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWebhookNotifier_Delivers(t *testing.T) {
	received := make(chan notice, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg notice
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received <- msg
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, zerolog.Nop())
	n.Notify("payment.gloss_applied", map[string]interface{}{"amount": 100})

	select {
	case msg := <-received:
		if msg.Event != "payment.gloss_applied" {
			t.Errorf("expected event payment.gloss_applied, got %s", msg.Event)
		}
		if msg.SentAt.IsZero() {
			t.Error("expected sent_at to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestNewWebhookNotifier_EmptyEndpointIsNop(t *testing.T) {
	n := NewWebhookNotifier("", zerolog.Nop())
	// Must not panic or block.
	n.Notify("appointment.scheduled", nil)
}
