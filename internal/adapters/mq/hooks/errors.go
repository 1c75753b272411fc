package hooks

import "errors"

// ErrMissingUser is returned when a user signal carries no user id.
var ErrMissingUser = errors.New("user signal without user id")
