package logctx

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger builds the root logger. The console format is meant for local
// development; production deployments should use json so the log collector
// can parse records. Either way the handler is wrapped with TraceHandler so
// records carry trace correlation ids.
func NewLogger(level slog.Level, format string) *slog.Logger {
	var handler slog.Handler

	switch format {
	case "console":
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(NewTraceHandler(handler))
}
