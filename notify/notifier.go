/*
Package notify delivers messages to people.

PURPOSE:
  The engine never talks to an email server. Everything that reaches a
  person goes through the Notifier interface: escalation notices from the
  batch job and domain events drained from the outbox by Dispatcher.

IMPLEMENTATIONS:
  LogNotifier:     Writes the message to the process log (development)
  WebhookNotifier: POSTs the message as JSON to a mail/chat gateway

DELIVERY CONTRACT:
  Send returns a Receipt on success. The delivery ID is whatever the
  transport hands back and may be empty. Errors are per message; callers
  collect them and move on to the next recipient.

SEE ALSO:
  - dispatcher.go: outbox draining
  - escalation/router.go: one notice per recipient
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Message is one notification to one recipient.
type Message struct {
	RecipientID string         `json:"recipient_id"`
	Address     string         `json:"address,omitempty"`
	Kind        string         `json:"kind"`
	Subject     string         `json:"subject"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Receipt confirms a delivery.
type Receipt struct {
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Notifier sends messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) (Receipt, error)

func (f NotifierFunc) Send(ctx context.Context, msg Message) (Receipt, error) {
	return f(ctx, msg)
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier logs every message and always succeeds.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg Message) (Receipt, error) {
	id := uuid.NewString()
	log.Printf("[Notify] %s -> %s (%s): %s", msg.Kind, msg.RecipientID, msg.Address, msg.Subject)
	return Receipt{DeliveryID: id}, nil
}

// =============================================================================
// WEBHOOK NOTIFIER
// =============================================================================

// WebhookNotifier posts messages to a gateway that owns the real transport.
// A 2xx response is a delivery; the optional JSON body {"id": "..."} becomes
// the receipt's delivery ID.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier creates a notifier with a 10s timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Send(ctx context.Context, msg Message) (Receipt, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("webhook %s: %w", msg.RecipientID, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("webhook %s: status %d: %s", msg.RecipientID, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var ack struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &ack)
	return Receipt{DeliveryID: ack.ID}, nil
}

var (
	_ Notifier = LogNotifier{}
	_ Notifier = (*WebhookNotifier)(nil)
)
