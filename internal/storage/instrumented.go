package storage

import (
	"context"
	"time"

	"github.com/italolelis/vod_pipeline/internal/telemetry"
)

// InstrumentedRepository wraps a DownloadRepository with telemetry. Every
// call is timed and counted under its operation name, whatever driver sits
// underneath.
type InstrumentedRepository struct {
	repo      DownloadRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedRepository(repo DownloadRepository, tel *telemetry.Telemetry) *InstrumentedRepository {
	return &InstrumentedRepository{
		repo:      repo,
		telemetry: tel,
	}
}

func (r *InstrumentedRepository) TrackDownload(ctx context.Context, fileID string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(ctx, fileID)
	})
}

func (r *InstrumentedRepository) GetDownload(ctx context.Context, fileID string) (*DownloadRecord, error) {
	var result *DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownload(ctx, fileID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedRepository) DownloadsByStatus(ctx context.Context, status Status) ([]DownloadRecord, error) {
	var result []DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "downloads_by_status", func(ctx context.Context) error {
		var err error
		result, err = r.repo.DownloadsByStatus(ctx, status)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedRepository) DueDownloads(ctx context.Context, now time.Time) ([]DownloadRecord, error) {
	var result []DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "due_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.DueDownloads(ctx, now)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedRepository) ClaimDownload(ctx context.Context, fileID, instanceID string) (bool, error) {
	var claimed bool

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_download", func(ctx context.Context) error {
		var err error
		claimed, err = r.repo.ClaimDownload(ctx, fileID, instanceID)

		return err
	})
	if err != nil {
		return false, err
	}

	return claimed, nil
}

func (r *InstrumentedRepository) ReleaseDownload(ctx context.Context, fileID, instanceID string, to Status, retryAfter *time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "release_download", func(ctx context.Context) error {
		return r.repo.ReleaseDownload(ctx, fileID, instanceID, to, retryAfter)
	})
}

func (r *InstrumentedRepository) UpdateDownloadStatus(ctx context.Context, fileID string, to Status, fields UpdateFields) (bool, error) {
	var applied bool

	err := r.telemetry.InstrumentDBOperation(ctx, "update_download_status", func(ctx context.Context) error {
		var err error
		applied, err = r.repo.UpdateDownloadStatus(ctx, fileID, to, fields)

		return err
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

func (r *InstrumentedRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	var purged int64

	err := r.telemetry.InstrumentDBOperation(ctx, "purge_terminal", func(ctx context.Context) error {
		var err error
		purged, err = r.repo.PurgeTerminal(ctx, before)

		return err
	})
	if err != nil {
		return 0, err
	}

	return purged, nil
}
