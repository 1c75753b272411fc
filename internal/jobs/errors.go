package jobs

import "errors"

// Sentinel job errors.
var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrJobPanicked = errors.New("job panicked")
)
