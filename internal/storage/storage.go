package storage

import (
	"context"
	"errors"
	"time"
)

// Status is the orchestration state of a download record. It is the single
// source of truth for where a request sits in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusScheduled  Status = "scheduled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound is returned when no record exists for a file id.
	ErrNotFound = errors.New("download record not found")

	// ErrAlreadyTracked is returned when a download is requested for a file
	// that already has a record.
	ErrAlreadyTracked = errors.New("download already tracked")
)

// DownloadRecord is the persisted orchestration state for one requested file.
// FileID is the join key with the permanent file-metadata record, which is
// owned by another service.
type DownloadRecord struct {
	FileID     string
	Status     Status
	RetryAfter *time.Time // set if and only if Status is StatusScheduled
	RetryCount int
	LastError  string
	LockedBy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Terminal reports whether the record reached a state with no outgoing
// transitions.
func (r *DownloadRecord) Terminal() bool {
	return r.Status.Terminal()
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusScheduled, StatusCompleted, StatusFailed:
		return true
	}

	return false
}

// ValidTransition reports whether the lifecycle allows moving a record from
// one status to another:
//
//	pending     --(coordinator claim)-->  in_progress
//	scheduled   --(coordinator claim)-->  in_progress
//	in_progress --(success)-->            completed
//	in_progress --(retries left)-->       scheduled
//	in_progress --(exhausted/permanent)-> failed
//	in_progress --(claim release)-->      pending
//
// Terminal states have no outgoing edges.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending, StatusScheduled:
		return to == StatusInProgress
	case StatusInProgress:
		switch to {
		case StatusCompleted, StatusFailed, StatusScheduled, StatusPending:
			return true
		}
	}

	return false
}

// UpdateFields carries the columns written alongside a status transition.
// RetryAfter is persisted verbatim: nil clears the column, which keeps the
// "retry_after set iff scheduled" invariant mechanical.
type UpdateFields struct {
	RetryAfter     *time.Time
	IncrementRetry bool
	LastError      *string
}

// DownloadRepository is the status store consumed by the coordinator, the
// recorder and the intake API.
type DownloadRepository interface {
	// TrackDownload inserts a new pending record for fileID. Returns
	// ErrAlreadyTracked when a record for the file already exists.
	TrackDownload(ctx context.Context, fileID string) error

	// GetDownload returns the record for fileID or ErrNotFound.
	GetDownload(ctx context.Context, fileID string) (*DownloadRecord, error)

	// DownloadsByStatus returns every record currently in the given status.
	DownloadsByStatus(ctx context.Context, status Status) ([]DownloadRecord, error)

	// DueDownloads returns scheduled records whose retry time has elapsed.
	DueDownloads(ctx context.Context, now time.Time) ([]DownloadRecord, error)

	// ClaimDownload atomically moves a pending or scheduled record to
	// in_progress, stamping instanceID as the owner. Returns false when the
	// record was not claimable (already owned, terminal, or missing).
	ClaimDownload(ctx context.Context, fileID, instanceID string) (bool, error)

	// ReleaseDownload undoes a claim after a failed dispatch: the record
	// moves from in_progress back to the given status, restoring retryAfter,
	// but only while instanceID still owns it.
	ReleaseDownload(ctx context.Context, fileID, instanceID string, to Status, retryAfter *time.Time) error

	// UpdateDownloadStatus transitions a non-terminal record to the given
	// status and applies fields. Returns false when the guard rejected the
	// write (the record is already terminal); ErrNotFound when no record
	// exists.
	UpdateDownloadStatus(ctx context.Context, fileID string, to Status, fields UpdateFields) (bool, error)

	// PurgeTerminal deletes terminal records not updated since the given
	// time and reports how many were removed.
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}
