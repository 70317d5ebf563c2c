package event

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPublisherPublish(t *testing.T) {
	var received Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &WebhookPublisher{WebhookURL: srv.URL}

	evt := Event{
		Type:       TypeDownloadFailed,
		FileID:     "file-42",
		Error:      "worker crashed",
		RetryCount: 3,
	}
	require.NoError(t, p.Publish(context.Background(), evt))

	assert.Equal(t, TypeDownloadFailed, received.Type)
	assert.Equal(t, "file-42", received.FileID)
	assert.Equal(t, "worker crashed", received.Error)
	assert.Equal(t, 3, received.RetryCount)
	assert.False(t, received.OccurredAt.IsZero(), "publish should stamp the event time")
}

func TestWebhookPublisherKeepsTimestamp(t *testing.T) {
	var received Event

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer srv.Close()

	occurred := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	p := &WebhookPublisher{WebhookURL: srv.URL}

	require.NoError(t, p.Publish(context.Background(), Event{
		Type:       TypeDownloadCompleted,
		FileID:     "file-1",
		OccurredAt: occurred,
	}))

	assert.True(t, received.OccurredAt.Equal(occurred))
}

func TestWebhookPublisherRejectsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := &WebhookPublisher{WebhookURL: srv.URL}

	err := p.Publish(context.Background(), Event{Type: TypeDownloadCompleted, FileID: "file-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookPublisherRequiresURL(t *testing.T) {
	p := &WebhookPublisher{}

	err := p.Publish(context.Background(), Event{Type: TypeDownloadCompleted})
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{Type: TypeDownloadFailed}))
}
