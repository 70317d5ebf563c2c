// Package invoke dispatches claimed downloads to the worker fleet.
package invoke

import (
	"context"

	"github.com/italolelis/vod_pipeline/internal/storage"
)

// Invoker hands a claimed download record to a worker. Implementations must
// be safe for concurrent use; the coordinator dispatches in parallel.
type Invoker interface {
	Dispatch(ctx context.Context, rec storage.DownloadRecord) error
	Driver() string
}

// Message is the dispatch payload handed to a worker. Attempt carries the
// retry count so workers can tune their own timeouts on later attempts.
type Message struct {
	FileID  string `json:"file_id"`
	Attempt int    `json:"attempt"`
}
