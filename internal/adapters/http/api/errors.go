package api

import (
	"errors"
	"net/http"

	"github.com/okian/voyage/internal/adapters/cache"
	"github.com/okian/voyage/internal/adapters/repository"
	"github.com/okian/voyage/internal/domain/model"
	"github.com/okian/voyage/internal/jobs"
	"github.com/okian/voyage/internal/recommend"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("authentication required")
	ErrBackpressure = errors.New("backpressure")
)

// Error tags a failure with the handler that saw it and an optional kind
// used to pick the response status.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap tags err with op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// statusFor maps an error to a response status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrBackpressure), errors.Is(err, recommend.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, model.ErrUnknownKind),
		errors.Is(err, jobs.ErrUnknownJob),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrUnknownEntity):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrMissingSubject),
		errors.Is(err, model.ErrMissingActor),
		errors.Is(err, model.ErrUnknownAction),
		errors.Is(err, model.ErrNegativeDwell),
		errors.Is(err, model.ErrRatingRange),
		errors.Is(err, model.ErrRatingTarget):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, cache.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
