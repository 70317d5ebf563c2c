package invoke

import "fmt"

// DispatchError represents a failed hand-off to a worker. The coordinator
// releases the record's claim when it sees one, so the next pass can retry
// the dispatch.
type DispatchError struct {
	Driver string // Worker driver that failed (e.g., "http", "amqp")
	FileID string // Download record the dispatch was for
	Err    error  // Underlying error, if any
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch download %s via %s: %v", e.FileID, e.Driver, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
