package pipelib

import "errors"

var (
	// ErrQueueFull indicates an admission was rejected because the maximum
	// number of pending requests has been reached.
	ErrQueueFull = errors.New("pipeline: max pending requests reached")

	// ErrClosed indicates the connection is closed. Every pending request
	// fails with this error when the inbound stream ends.
	ErrClosed = errors.New("pipeline: connection closed")
)
