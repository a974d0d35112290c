package storage

import "errors"

var (
	// ErrTimeout is returned when a store call exceeds its deadline.
	ErrTimeout = errors.New("storage: timeout")
	// ErrConnectionClosed is returned when the underlying client was closed.
	ErrConnectionClosed = errors.New("storage: connection closed")
)
