package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/vod_pipeline/internal/logctx"
)

// Store is the slice of the record store the janitor needs.
type Store interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
}

// PurgeExpired deletes completed and failed records older than the retention
// period. Live records are never touched, whatever their age.
func PurgeExpired(ctx context.Context, store Store, retention time.Duration) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().UTC().Add(-retention)

	purged, err := store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished downloads: %w", err)
	}

	if purged > 0 {
		logger.InfoContext(ctx, "purged finished downloads",
			"count", purged,
			"older_than", humanize.Time(cutoff),
		)
	}

	return purged, nil
}
