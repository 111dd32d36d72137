package pipelib

import "context"

// Conn is the transport collaborator shared by one Pipeline: a duplex
// connection with a single serial write path and a single continuous
// inbound stream.
type Conn[W, R any] interface {
	// Write drains items until the channel is closed, pushing them onto the
	// wire and flushing according to strategy. It returns once the full
	// sequence has been accepted, or with an error if the write was aborted.
	// The Pipeline guarantees at most one Write call is active at a time.
	Write(ctx context.Context, items <-chan W, strategy FlushStrategy[W]) error

	// Read returns the connection's inbound stream. The channel is closed
	// once the connection is no longer readable.
	Read() <-chan R

	// IsTerminal reports whether item marks the end of one logical response
	// within the inbound stream.
	IsTerminal(item R) bool

	Close() error
}

// Writer performs a deferred write on behalf of a request, for callers that
// invoke the connection's write path themselves instead of supplying an
// item sequence.
type Writer interface {
	Write() error
}

type WriterFunc func() error

func (fn WriterFunc) Write() error { return fn() }
