package pipeline

import "time"

// BackoffPolicy computes retry times for failed download attempts. It is a
// pure value type; all state lives in the download record.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// NextRetry returns when the next delivery attempt may run, given how many
// attempts have been consumed so far (the initial dispatch counts as one).
// The delay starts at BaseDelay and doubles per attempt, capped at MaxDelay.
// The second return value is false once the attempt budget is spent; the
// caller must then fail the download instead of scheduling it.
func (p BackoffPolicy) NextRetry(attempt int, now time.Time) (time.Time, bool) {
	if attempt >= p.MaxAttempts {
		return time.Time{}, false
	}

	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2

		// The multiplication wraps around for very large attempt counts.
		if delay >= p.MaxDelay || delay <= 0 {
			delay = p.MaxDelay

			break
		}
	}

	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return now.Add(delay), true
}
