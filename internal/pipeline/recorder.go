package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/vod_pipeline/internal/event"
	"github.com/italolelis/vod_pipeline/internal/logctx"
	"github.com/italolelis/vod_pipeline/internal/storage"
	"github.com/italolelis/vod_pipeline/internal/telemetry"
)

// Outcome is a worker's verdict on one delivery attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeTransientFailure, OutcomePermanentFailure:
		return true
	}

	return false
}

// Notification is a worker's report about a finished delivery attempt.
type Notification struct {
	FileID  string
	Outcome Outcome
	Error   string
}

// Result describes what a notification did to the record. Absorbed results
// mean the record was already terminal and nothing changed.
type Result struct {
	FileID     string
	Status     storage.Status
	RetryAfter *time.Time
	Absorbed   bool
}

// Recorder applies worker outcome notifications to download records. It owns
// every transition out of in_progress except the coordinator's claim release.
type Recorder struct {
	repo   storage.DownloadRepository
	policy BackoffPolicy
	events event.Publisher
	tel    *telemetry.Telemetry
	now    func() time.Time
}

func NewRecorder(repo storage.DownloadRepository, policy BackoffPolicy, events event.Publisher, tel *telemetry.Telemetry) *Recorder {
	return &Recorder{
		repo:   repo,
		policy: policy,
		events: events,
		tel:    tel,
		now:    time.Now,
	}
}

// Apply records the outcome of a delivery attempt. Notifications for unknown
// records return storage.ErrNotFound; notifications for records that already
// reached a terminal state are absorbed without touching the record.
func (r *Recorder) Apply(ctx context.Context, n Notification) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("file_id", n.FileID)

	if !n.Outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, n.Outcome)
	}

	rec, err := r.repo.GetDownload(ctx, n.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load download record: %w", err)
	}

	if rec.Terminal() {
		logger.DebugContext(ctx, "duplicate notification absorbed", "status", rec.Status, "outcome", n.Outcome)
		r.tel.RecordNotification(string(n.Outcome), "absorbed")

		return &Result{FileID: rec.FileID, Status: rec.Status, Absorbed: true}, nil
	}

	to, fields := r.plan(rec, n)

	// Outcomes normally arrive while the record is in_progress. A released
	// claim can put it back to pending or scheduled before the worker's
	// report lands; the outcome still wins.
	if !storage.ValidTransition(rec.Status, to) {
		logger.WarnContext(ctx, "recording outcome from unexpected state", "from", rec.Status, "to", to)
	}

	applied, err := r.repo.UpdateDownloadStatus(ctx, n.FileID, to, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update download status: %w", err)
	}

	if !applied {
		// Another writer finished the record between the read and the update.
		current, err := r.repo.GetDownload(ctx, n.FileID)
		if err != nil {
			return nil, fmt.Errorf("failed to load download record: %w", err)
		}

		logger.DebugContext(ctx, "duplicate notification absorbed", "status", current.Status, "outcome", n.Outcome)
		r.tel.RecordNotification(string(n.Outcome), "absorbed")

		return &Result{FileID: current.FileID, Status: current.Status, Absorbed: true}, nil
	}

	r.tel.RecordNotification(string(n.Outcome), "applied")

	switch to {
	case storage.StatusScheduled:
		r.tel.RecordRetryScheduled()
		logger.InfoContext(ctx, "retry scheduled",
			"retry_after", fields.RetryAfter,
			"retry_in", humanize.Time(*fields.RetryAfter),
			"retry_count", rec.RetryCount+1,
			"error", n.Error,
		)
	case storage.StatusCompleted:
		logger.InfoContext(ctx, "download completed", "retry_count", rec.RetryCount)
		r.publish(ctx, event.Event{
			Type:       event.TypeDownloadCompleted,
			FileID:     rec.FileID,
			RetryCount: rec.RetryCount,
		})
	case storage.StatusFailed:
		logger.WarnContext(ctx, "download failed", "error", n.Error, "retry_count", rec.RetryCount)
		r.publish(ctx, event.Event{
			Type:       event.TypeDownloadFailed,
			FileID:     rec.FileID,
			Error:      n.Error,
			RetryCount: rec.RetryCount,
		})
	}

	return &Result{FileID: rec.FileID, Status: to, RetryAfter: fields.RetryAfter}, nil
}

// plan maps an outcome to the target status and column updates. retryCount
// only moves on transitions into scheduled.
func (r *Recorder) plan(rec *storage.DownloadRecord, n Notification) (storage.Status, storage.UpdateFields) {
	switch n.Outcome {
	case OutcomeSuccess:
		return storage.StatusCompleted, storage.UpdateFields{}
	case OutcomeTransientFailure:
		retryAt, ok := r.policy.NextRetry(rec.RetryCount+1, r.now().UTC())
		if !ok {
			// Retry budget spent: the transient failure becomes permanent.
			return storage.StatusFailed, storage.UpdateFields{LastError: &n.Error}
		}

		return storage.StatusScheduled, storage.UpdateFields{
			RetryAfter:     &retryAt,
			IncrementRetry: true,
			LastError:      &n.Error,
		}
	default:
		return storage.StatusFailed, storage.UpdateFields{LastError: &n.Error}
	}
}

func (r *Recorder) publish(ctx context.Context, evt event.Event) {
	if r.events == nil {
		return
	}

	if err := r.events.Publish(ctx, evt); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to publish event", "type", evt.Type, "err", err)
	}
}
