package model

import "errors"

// Sentinel validation errors.
var (
	ErrMissingSubject = errors.New("missing subject")
	ErrMissingActor   = errors.New("missing actor")
	ErrUnknownAction  = errors.New("unknown action")
	ErrNegativeDwell  = errors.New("dwell seconds must not be negative")
	ErrUnknownKind    = errors.New("unknown entity kind")
	ErrRatingRange    = errors.New("rating must be between 1 and 5")
	ErrRatingTarget   = errors.New("unknown rating target")
)
