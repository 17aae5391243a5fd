package backend

import "errors"

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrNotConnected is returned when the feed has no live transport.
	ErrNotConnected = errors.New("not connected")
)
