package pipeline

import "errors"

// ErrInvalidOutcome is returned when a notification carries an outcome the
// lifecycle does not know.
var ErrInvalidOutcome = errors.New("invalid notification outcome")
