package catalog

import "errors"

var (
	// ErrUnavailable wraps any backend failure while refreshing the
	// snapshot. It is the only error surfaced to query callers.
	ErrUnavailable = errors.New("package data unavailable")

	// ErrNotFound is returned by Find for an unknown package ID.
	ErrNotFound = errors.New("package not found")
)
