package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/vod_pipeline/internal/invoke"
	"github.com/italolelis/vod_pipeline/internal/logctx"
	"github.com/italolelis/vod_pipeline/internal/storage"
	"github.com/italolelis/vod_pipeline/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Summary is the outcome of one coordinator pass.
type Summary struct {
	Pending   int      `json:"pending"`
	Scheduled int      `json:"scheduled"`
	Triggered int      `json:"triggered"`
	Errors    []string `json:"errors,omitempty"`
}

// Coordinator discovers dispatchable download records and hands them to
// workers. Claims are written before dispatch so concurrent coordinator
// instances never double-dispatch a record.
type Coordinator struct {
	repo        storage.DownloadRepository
	invoker     invoke.Invoker
	tel         *telemetry.Telemetry
	instanceID  string
	maxParallel int
	now         func() time.Time

	OnDispatched    chan *storage.DownloadRecord
	OnDispatchError chan *storage.DownloadRecord
}

func NewCoordinator(repo storage.DownloadRepository, invoker invoke.Invoker, tel *telemetry.Telemetry, maxParallel int) *Coordinator {
	return &Coordinator{
		repo:            repo,
		invoker:         invoker,
		tel:             tel,
		instanceID:      GenerateInstanceID(),
		maxParallel:     maxParallel,
		now:             time.Now,
		OnDispatched:    make(chan *storage.DownloadRecord),
		OnDispatchError: make(chan *storage.DownloadRecord),
	}
}

// InstanceID identifies this coordinator in claim ownership stamps.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

func (c *Coordinator) Close() {
	close(c.OnDispatched)
	close(c.OnDispatchError)
}

// RunOnce performs one pass: discover pending and due records, claim each,
// and dispatch the claims to workers. A store read failure fails the whole
// pass; an individual dispatch failure releases that record's claim and the
// pass carries on.
func (c *Coordinator) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary

	err := c.tel.InstrumentCoordinatorRun(ctx, func(ctx context.Context) error {
		var err error
		summary, err = c.runOnce(ctx)

		return err
	})

	return summary, err
}

func (c *Coordinator) runOnce(ctx context.Context) (Summary, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := c.now().UTC()

	pending, err := c.repo.DownloadsByStatus(ctx, storage.StatusPending)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list pending downloads: %w", err)
	}

	due, err := c.repo.DueDownloads(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list due downloads: %w", err)
	}

	summary := Summary{Pending: len(pending), Scheduled: len(due)}

	c.tel.RecordQueueDepth("pending", int64(len(pending)))
	c.tel.RecordQueueDepth("scheduled_due", int64(len(due)))

	candidates := make([]storage.DownloadRecord, 0, len(pending)+len(due))
	candidates = append(candidates, pending...)
	candidates = append(candidates, due...)

	if len(candidates) == 0 {
		logger.DebugContext(ctx, "nothing to dispatch")

		return summary, nil
	}

	logger.InfoContext(ctx, "dispatching downloads", "pending", len(pending), "due", len(due))

	var (
		triggered int32
		mu        sync.Mutex
	)

	wg, ctx := errgroup.WithContext(ctx)

	sem := make(chan struct{}, c.maxParallel)

	for i := range candidates {
		rec := candidates[i]
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			if err := c.dispatchOne(ctx, rec); err != nil {
				mu.Lock()
				summary.Errors = append(summary.Errors, err.Error())
				mu.Unlock()

				// Collected rather than returned so one bad record doesn't
				// cancel the remaining dispatches.
				return nil
			}

			atomic.AddInt32(&triggered, 1)

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return summary, fmt.Errorf("failed to dispatch downloads: %w", err)
	}

	summary.Triggered = int(triggered)

	logger.InfoContext(ctx, "coordinator pass finished",
		"pending", summary.Pending,
		"due", summary.Scheduled,
		"triggered", summary.Triggered,
		"errors", len(summary.Errors),
	)

	return summary, nil
}

// dispatchOne claims the record and hands it to a worker. When the dispatch
// fails the claim is released back to the record's previous status so the
// next pass rediscovers it.
func (c *Coordinator) dispatchOne(ctx context.Context, rec storage.DownloadRecord) error {
	logger := logctx.LoggerFromContext(ctx).With("file_id", rec.FileID)

	claimed, err := c.repo.ClaimDownload(ctx, rec.FileID, c.instanceID)
	if err != nil {
		return fmt.Errorf("failed to claim download %s: %w", rec.FileID, err)
	}

	if !claimed {
		// Another instance won the record between discovery and claim.
		logger.DebugContext(ctx, "download already claimed")

		return nil
	}

	err = c.tel.InstrumentDispatch(ctx, c.invoker.Driver(), func(ctx context.Context) error {
		return c.invoker.Dispatch(ctx, rec)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to dispatch download", "err", err)

		if relErr := c.repo.ReleaseDownload(ctx, rec.FileID, c.instanceID, rec.Status, rec.RetryAfter); relErr != nil {
			logger.ErrorContext(ctx, "failed to release claim", "err", relErr)

			return fmt.Errorf("failed to release claim for %s after dispatch error %q: %w", rec.FileID, err, relErr)
		}

		c.OnDispatchError <- &rec

		return err
	}

	logger.DebugContext(ctx, "download dispatched", "attempt", rec.RetryCount)

	c.OnDispatched <- &rec

	return nil
}
