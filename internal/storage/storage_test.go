package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending is claimable", from: StatusPending, to: StatusInProgress, want: true},
		{name: "scheduled is claimable", from: StatusScheduled, to: StatusInProgress, want: true},
		{name: "in progress can complete", from: StatusInProgress, to: StatusCompleted, want: true},
		{name: "in progress can fail", from: StatusInProgress, to: StatusFailed, want: true},
		{name: "in progress can be rescheduled", from: StatusInProgress, to: StatusScheduled, want: true},
		{name: "claim release returns to pending", from: StatusInProgress, to: StatusPending, want: true},
		{name: "pending cannot complete directly", from: StatusPending, to: StatusCompleted, want: false},
		{name: "scheduled cannot fail directly", from: StatusScheduled, to: StatusFailed, want: false},
		{name: "completed is terminal", from: StatusCompleted, to: StatusInProgress, want: false},
		{name: "failed is terminal", from: StatusFailed, to: StatusScheduled, want: false},
		{name: "failed cannot restart", from: StatusFailed, to: StatusPending, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusScheduled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusInProgress, StatusScheduled, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), "status %q", s)
	}

	assert.False(t, Status("downloading").Valid())
	assert.False(t, Status("").Valid())
}

func TestRecordTerminal(t *testing.T) {
	now := time.Now()
	rec := &DownloadRecord{FileID: "file-1", Status: StatusCompleted, CreatedAt: now, UpdatedAt: now}

	assert.True(t, rec.Terminal())

	rec.Status = StatusScheduled
	assert.False(t, rec.Terminal())
}
