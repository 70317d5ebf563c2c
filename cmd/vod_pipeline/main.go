package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/vod_pipeline/internal/cleanup"
	"github.com/italolelis/vod_pipeline/internal/config"
	"github.com/italolelis/vod_pipeline/internal/event"
	"github.com/italolelis/vod_pipeline/internal/http/rest"
	"github.com/italolelis/vod_pipeline/internal/invoke"
	"github.com/italolelis/vod_pipeline/internal/invoke/amqpinvoke"
	"github.com/italolelis/vod_pipeline/internal/invoke/httpinvoke"
	"github.com/italolelis/vod_pipeline/internal/logctx"
	"github.com/italolelis/vod_pipeline/internal/pipeline"
	"github.com/italolelis/vod_pipeline/internal/storage"
	"github.com/italolelis/vod_pipeline/internal/storage/postgres"
	"github.com/italolelis/vod_pipeline/internal/storage/sqlite"
	"github.com/italolelis/vod_pipeline/internal/telemetry"
)

// version is stamped by the build.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.NewLogger(cfg.SlogLevel(), cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("vod pipeline starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Record Store
	repo, closeStore, err := buildRepository(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	store := storage.NewInstrumentedRepository(repo, tel)

	// =========================================================================
	// Start Worker Invoker
	invoker, closeInvoker, err := buildInvoker(cfg)
	if err != nil {
		return err
	}
	defer closeInvoker()

	// =========================================================================
	// Start Coordinator & Recorder
	coord := pipeline.NewCoordinator(store, invoker, tel, cfg.MaxParallel)

	var events event.Publisher = event.NopPublisher{}
	if cfg.WebhookURL != "" {
		events = &event.WebhookPublisher{WebhookURL: cfg.WebhookURL}
	}

	policy := pipeline.BackoffPolicy{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	recorder := pipeline.NewRecorder(store, policy, events, tel)

	// =========================================================================
	// Start Dispatch Notifications
	setupDispatchEvents(ctx, coord, events)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, store, recorder, coord, events, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"instance_id", coord.InstanceID(),
		"store_driver", cfg.Store.Driver,
		"worker_driver", cfg.Worker.Driver,
		"poll_interval", cfg.PollInterval.String(),
		"retention", cfg.RetentionPeriod.String(),
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, store, cfg)

	// =========================================================================
	// Start Main Loop
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion. The parent
			// context is already canceled, so the deadline starts fresh.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return ctx.Err()
		case <-ticker.C:
			if _, err := coord.RunOnce(ctx); err != nil {
				logger.Error("coordinator pass failed", "err", err)
			}
		}
	}
}

// This is an abstract factory for the record store.
func buildRepository(cfg *config.Config) (storage.DownloadRepository, func() error, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.InitDB(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}

		return sqlite.NewDownloadRepository(db), db.Close, nil
	case "postgres":
		db, err := postgres.InitDB(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}

		return postgres.NewDownloadRepository(db), db.Close, nil
	}

	return nil, nil, fmt.Errorf("invalid store driver: %s", cfg.Store.Driver)
}

// This is an abstract factory for the worker invoker.
func buildInvoker(cfg *config.Config) (invoke.Invoker, func() error, error) {
	switch cfg.Worker.Driver {
	case "http":
		client := httpinvoke.NewClient(cfg.Worker.BaseURL, cfg.Worker.Token, cfg.Worker.Timeout)

		return client, func() error { return nil }, nil
	case "amqp":
		client, err := amqpinvoke.NewClient(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to amqp: %w", err)
		}

		return client, client.Close, nil
	}

	return nil, nil, fmt.Errorf("invalid worker driver: %s", cfg.Worker.Driver)
}

// setupDispatchEvents consumes the coordinator's channels: dispatches are
// logged, dispatch failures additionally go out as events.
func setupDispatchEvents(ctx context.Context, coord *pipeline.Coordinator, events event.Publisher) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		for rec := range coord.OnDispatched {
			logger.Info("download handed to worker", "file_id", rec.FileID, "retry_count", rec.RetryCount)
		}
	}()

	go func() {
		for rec := range coord.OnDispatchError {
			logger.Error("download dispatch failed", "file_id", rec.FileID, "retry_count", rec.RetryCount)

			if err := events.Publish(ctx, event.Event{
				Type:       event.TypeDispatchFailed,
				FileID:     rec.FileID,
				RetryCount: rec.RetryCount,
			}); err != nil {
				logger.Error("failed to publish event", "file_id", rec.FileID, "err", err)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	repo storage.DownloadRepository,
	recorder *pipeline.Recorder,
	coord *pipeline.Coordinator,
	events event.Publisher,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewDownloadHandler(repo, recorder, coord, events, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, store cleanup.Store, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-ticker.C:
				if _, err := cleanup.PurgeExpired(ctx, store, cfg.RetentionPeriod); err != nil {
					logger.Error("failed to purge finished downloads", "err", err)
				}
			}
		}
	}()
}
