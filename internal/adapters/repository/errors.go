package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrUnknownEntity = errors.New("unknown destination")
	ErrLoadCatalog   = errors.New("load catalog failed")
)
