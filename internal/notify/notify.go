package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wb-go/wbf/retry"
)

// Incoming is a rendered inbound message handed to sinks.
type Incoming struct {
	Sender     string    `json:"sender"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sink displays or forwards one incoming message. Failures are logged by the
// dispatcher and never reach the delivery path.
type Sink interface {
	Notify(sender, content string, receivedAt time.Time) error
}

// Dispatcher decouples connection read loops from sink latency: Publish never
// blocks, a single goroutine feeds the sinks.
type Dispatcher struct {
	ch    chan Incoming
	sinks []Sink
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		ch:    make(chan Incoming, 100),
		sinks: sinks,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case in := <-d.ch:
				for _, sink := range d.sinks {
					if err := sink.Notify(in.Sender, in.Content, in.ReceivedAt); err != nil {
						slog.Error("Notification sink failed", "sender", in.Sender, "error", err)
					}
				}
			}
		}
	}()
}

// Publish hands a message to the sinks without blocking. When the buffer is
// full the notification is dropped; delivery state is unaffected.
func (d *Dispatcher) Publish(in Incoming) {
	select {
	case d.ch <- in:
	default:
		slog.Warn("Notification buffer full, dropping", "sender", in.Sender)
	}
}

// SlogSink writes notifications to the process logger.
type SlogSink struct{}

func (SlogSink) Notify(sender, content string, receivedAt time.Time) error {
	slog.Info("New message", "from", sender, "content", content, "at", receivedAt.Format(time.RFC3339))
	return nil
}

// WebhookSink POSTs notifications as JSON to an external endpoint, retrying
// transient failures with a bounded backoff.
type WebhookSink struct {
	URL      string
	client   *http.Client
	strategy retry.Strategy
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		strategy: retry.Strategy{Attempts: 3, Delay: 200 * time.Millisecond, Backoff: 2},
	}
}

func (s *WebhookSink) Notify(sender, content string, receivedAt time.Time) error {
	payload, err := json.Marshal(Incoming{Sender: sender, Content: content, ReceivedAt: receivedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return retry.Do(func() error {
		resp, err := s.client.Post(s.URL, "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to send webhook request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil
	}, s.strategy)
}
