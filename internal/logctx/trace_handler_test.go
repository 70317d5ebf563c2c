package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func testSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	return trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "download tracked", "file_id", "file-1")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "download tracked", entry["msg"])
	assert.Equal(t, "file-1", entry["file_id"])
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestTraceHandlerWithSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := trace.ContextWithSpanContext(context.Background(), testSpanContext(t))
	logger.InfoContext(ctx, "download dispatched", "file_id", "file-1")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "file-1", entry["file_id"])
}

func TestTraceHandlerEnabledDelegates(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	wrapped := h.WithAttrs([]slog.Attr{slog.String("component", "coordinator")})
	require.IsType(t, &TraceHandler{}, wrapped)

	slog.New(wrapped).InfoContext(context.Background(), "pass finished")

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "coordinator", entry["component"])
}

func TestTraceHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	wrapped := h.WithGroup("dispatch")
	require.IsType(t, &TraceHandler{}, wrapped)

	slog.New(wrapped).InfoContext(context.Background(), "download dispatched", "file_id", "file-1")

	entry := decodeRecord(t, &buf)
	require.Contains(t, entry, "dispatch")
	group, ok := entry["dispatch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "file-1", group["file_id"])
}

func TestNewTraceHandlerNilPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
