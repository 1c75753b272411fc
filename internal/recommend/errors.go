package recommend

import "errors"

// Sentinel errors returned by the service.
var (
	ErrBackpressure = errors.New("task queue rejected the task")
)
