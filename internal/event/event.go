// Package event publishes download lifecycle events to interested parties.
package event

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	TypeDownloadRequested = "download.requested"
	TypeDownloadCompleted = "download.completed"
	TypeDownloadFailed    = "download.failed"
	TypeDispatchFailed    = "download.dispatch_failed"
)

// Event describes something that happened to a download record.
type Event struct {
	Type       string    `json:"type"`
	FileID     string    `json:"file_id"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// WebhookPublisher posts events as JSON to a configured webhook.
type WebhookPublisher struct {
	WebhookURL string
	Client     *http.Client
}

func (p *WebhookPublisher) Publish(ctx context.Context, evt Event) error {
	if p.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// NopPublisher discards every event. It stands in when no webhook is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}
