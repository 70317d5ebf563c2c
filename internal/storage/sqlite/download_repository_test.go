package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/italolelis/vod_pipeline/internal/storage"
)

func newTestRepository(t *testing.T) (*DownloadRepository, *sql.DB) {
	t.Helper()

	db, err := InitDB(":memory:")
	require.NoError(t, err)

	// A pooled second connection would see a different empty database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() { db.Close() })

	return NewDownloadRepository(db), db
}

func TestTrackDownload(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)

	require.Equal(t, "file-1", rec.FileID)
	require.Equal(t, storage.StatusPending, rec.Status)
	require.Nil(t, rec.RetryAfter)
	require.Zero(t, rec.RetryCount)
	require.Empty(t, rec.LastError)
	require.Empty(t, rec.LockedBy)
	require.False(t, rec.CreatedAt.IsZero())
}

func TestTrackDownloadDuplicate(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	err := repo.TrackDownload(ctx, "file-1")
	require.ErrorIs(t, err, storage.ErrAlreadyTracked)

	// The original row is untouched.
	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, rec.Status)
}

func TestGetDownloadNotFound(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.GetDownload(context.Background(), "ghost")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDownloadsByStatus(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.TrackDownload(ctx, id))
	}

	applied, err := repo.UpdateDownloadStatus(ctx, "b", storage.StatusCompleted, storage.UpdateFields{})
	require.NoError(t, err)
	require.True(t, applied)

	pending, err := repo.DownloadsByStatus(ctx, storage.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	completed, err := repo.DownloadsByStatus(ctx, storage.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, "b", completed[0].FileID)
}

func TestClaimDownload(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	claimed, err := repo.ClaimDownload(ctx, "file-1", "instance-a")
	require.NoError(t, err)
	require.True(t, claimed)

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusInProgress, rec.Status)
	require.Equal(t, "instance-a", rec.LockedBy)

	// A second claim loses.
	claimed, err = repo.ClaimDownload(ctx, "file-1", "instance-b")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestClaimDownloadClearsRetryTime(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	retryAt := time.Unix(time.Now().Add(-time.Minute).Unix(), 0).UTC()
	applied, err := repo.UpdateDownloadStatus(ctx, "file-1", storage.StatusScheduled, storage.UpdateFields{
		RetryAfter:     &retryAt,
		IncrementRetry: true,
	})
	require.NoError(t, err)
	require.True(t, applied)

	claimed, err := repo.ClaimDownload(ctx, "file-1", "instance-a")
	require.NoError(t, err)
	require.True(t, claimed)

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusInProgress, rec.Status)
	require.Nil(t, rec.RetryAfter, "claims must clear the retry time")
	require.Equal(t, 1, rec.RetryCount)
}

func TestClaimDownloadIgnoresTerminalRecords(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	applied, err := repo.UpdateDownloadStatus(ctx, "file-1", storage.StatusFailed, storage.UpdateFields{})
	require.NoError(t, err)
	require.True(t, applied)

	claimed, err := repo.ClaimDownload(ctx, "file-1", "instance-a")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestReleaseDownload(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	claimed, err := repo.ClaimDownload(ctx, "file-1", "instance-a")
	require.NoError(t, err)
	require.True(t, claimed)

	// A non-owner release is a no-op.
	require.NoError(t, repo.ReleaseDownload(ctx, "file-1", "instance-b", storage.StatusPending, nil))

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusInProgress, rec.Status)

	require.NoError(t, repo.ReleaseDownload(ctx, "file-1", "instance-a", storage.StatusPending, nil))

	rec, err = repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, rec.Status)
	require.Empty(t, rec.LockedBy)

	// Released records can be claimed again.
	claimed, err = repo.ClaimDownload(ctx, "file-1", "instance-b")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestReleaseDownloadRestoresRetryTime(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	retryAt := time.Unix(time.Now().Add(-time.Minute).Unix(), 0).UTC()
	applied, err := repo.UpdateDownloadStatus(ctx, "file-1", storage.StatusScheduled, storage.UpdateFields{
		RetryAfter:     &retryAt,
		IncrementRetry: true,
	})
	require.NoError(t, err)
	require.True(t, applied)

	claimed, err := repo.ClaimDownload(ctx, "file-1", "instance-a")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.ReleaseDownload(ctx, "file-1", "instance-a", storage.StatusScheduled, &retryAt))

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusScheduled, rec.Status)
	require.NotNil(t, rec.RetryAfter)
	require.True(t, rec.RetryAfter.Equal(retryAt))
}

func TestUpdateDownloadStatusFields(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	claimed, err := repo.ClaimDownload(ctx, "file-1", "instance-a")
	require.NoError(t, err)
	require.True(t, claimed)

	retryAt := time.Unix(time.Now().Add(45*time.Second).Unix(), 0).UTC()
	lastError := "connection reset"

	applied, err := repo.UpdateDownloadStatus(ctx, "file-1", storage.StatusScheduled, storage.UpdateFields{
		RetryAfter:     &retryAt,
		IncrementRetry: true,
		LastError:      &lastError,
	})
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusScheduled, rec.Status)
	require.NotNil(t, rec.RetryAfter)
	require.True(t, rec.RetryAfter.Equal(retryAt))
	require.Equal(t, 1, rec.RetryCount)
	require.Equal(t, lastError, rec.LastError)
	require.Empty(t, rec.LockedBy, "status updates drop the claim")
}

func TestUpdateDownloadStatusGuardsTerminalRecords(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, "file-1"))

	applied, err := repo.UpdateDownloadStatus(ctx, "file-1", storage.StatusCompleted, storage.UpdateFields{})
	require.NoError(t, err)
	require.True(t, applied)

	// Terminal records reject further transitions.
	applied, err = repo.UpdateDownloadStatus(ctx, "file-1", storage.StatusFailed, storage.UpdateFields{})
	require.NoError(t, err)
	require.False(t, applied)

	rec, err := repo.GetDownload(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, rec.Status)
}

func TestUpdateDownloadStatusUnknownFile(t *testing.T) {
	repo, _ := newTestRepository(t)

	applied, err := repo.UpdateDownloadStatus(context.Background(), "ghost", storage.StatusCompleted, storage.UpdateFields{})
	require.NoError(t, err)
	require.False(t, applied)
}

func TestDueDownloads(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"due-late", "due-early", "future", "plain"} {
		require.NoError(t, repo.TrackDownload(ctx, id))
	}

	schedule := func(id string, at time.Time) {
		t.Helper()

		retryAt := time.Unix(at.Unix(), 0).UTC()
		applied, err := repo.UpdateDownloadStatus(ctx, id, storage.StatusScheduled, storage.UpdateFields{
			RetryAfter:     &retryAt,
			IncrementRetry: true,
		})
		require.NoError(t, err)
		require.True(t, applied)
	}

	schedule("due-late", now.Add(-time.Minute))
	schedule("due-early", now.Add(-time.Hour))
	schedule("future", now.Add(time.Hour))

	due, err := repo.DueDownloads(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)

	// Ordered by retry time, earliest first.
	require.Equal(t, "due-early", due[0].FileID)
	require.Equal(t, "due-late", due[1].FileID)
}

func TestPurgeTerminal(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"old-done", "fresh-done", "old-pending"} {
		require.NoError(t, repo.TrackDownload(ctx, id))
	}

	for _, id := range []string{"old-done", "fresh-done"} {
		applied, err := repo.UpdateDownloadStatus(ctx, id, storage.StatusCompleted, storage.UpdateFields{})
		require.NoError(t, err)
		require.True(t, applied)
	}

	// Age two of the rows past the retention cutoff.
	stale := now.Add(-14 * 24 * time.Hour).Unix()
	for _, id := range []string{"old-done", "old-pending"} {
		_, err := db.Exec(`UPDATE downloads SET updated_at = ? WHERE file_id = ?`, stale, id)
		require.NoError(t, err)
	}

	purged, err := repo.PurgeTerminal(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)

	_, err = repo.GetDownload(ctx, "old-done")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Terminal but fresh records survive, as do stale non-terminal ones.
	_, err = repo.GetDownload(ctx, "fresh-done")
	require.NoError(t, err)

	_, err = repo.GetDownload(ctx, "old-pending")
	require.NoError(t, err)
}
