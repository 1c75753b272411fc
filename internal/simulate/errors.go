package simulate

import "errors"

var (
	// ErrNoDestinations is returned when there is nothing to send traffic to.
	ErrNoDestinations = errors.New("no destinations to target")

	// ErrUnexpectedStatus wraps any response the client did not expect.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrTrendingMismatch is returned when trending never matches the traffic sent.
	ErrTrendingMismatch = errors.New("trending scores do not match submitted traffic")
)
