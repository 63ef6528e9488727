package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFull   = errors.New("change queue full")
	ErrClosed = errors.New("change queue closed")
)
