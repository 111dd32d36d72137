package pipelib

import (
	"context"
	"io"
)

// Response is the read slice of one logical request: the inbound items that
// belong to that request, delivered in arrival order.
type Response[R any] struct {
	items  chan R
	err    error // set before items is closed
	cancel context.CancelFunc
}

// Recv blocks until the next item of the response is available. It returns
// io.EOF once the response has completed normally, or the error that
// terminated the request. After the response ends, Recv keeps returning the
// same error.
func (r *Response[R]) Recv() (R, error) {
	item, ok := <-r.items
	if !ok {
		var zero R
		return zero, r.err
	}
	return item, nil
}

// Collect receives items until the response completes and returns them all.
func (r *Response[R]) Collect() ([]R, error) {
	var items []R
	for {
		item, err := r.Recv()
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
}

// Cancel aborts the request in whatever phase it is in. Cancelling an
// already-terminal request is a no-op.
func (r *Response[R]) Cancel() { r.cancel() }
