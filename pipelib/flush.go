package pipelib

import (
	"context"
	"time"
)

// FlushStrategy decides when the write path should push buffered outbound
// data onto the network. Apply forwards every item from in to the returned
// sequence, unmodified in order and count, and emits out-of-band flush
// signals on the side channel. Both channels are closed once in is closed
// and all signals have been delivered; ctx cancellation releases the stage
// early.
type FlushStrategy[T any] interface {
	Apply(ctx context.Context, in <-chan T) (out <-chan T, flushes <-chan struct{})
}

type FlushStrategyFunc[T any] func(ctx context.Context, in <-chan T) (<-chan T, <-chan struct{})

func (fn FlushStrategyFunc[T]) Apply(ctx context.Context, in <-chan T) (<-chan T, <-chan struct{}) {
	return fn(ctx, in)
}

// FlushOnEach emits one flush signal immediately after each item has been
// accepted by the write path. Lowest latency, highest flush frequency.
func FlushOnEach[T any]() FlushStrategy[T] {
	return FlushStrategyFunc[T](func(ctx context.Context, in <-chan T) (<-chan T, <-chan struct{}) {
		out := make(chan T)
		flushes := make(chan struct{})
		go func() {
			defer close(flushes)
			defer close(out)
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- item:
					case <-ctx.Done():
						return
					}
					select {
					case flushes <- struct{}{}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out, flushes
	})
}

// FlushOnEnd emits a single flush signal once the full outbound sequence has
// been accepted by the write path. This is the default strategy.
func FlushOnEnd[T any]() FlushStrategy[T] {
	return FlushStrategyFunc[T](func(ctx context.Context, in <-chan T) (<-chan T, <-chan struct{}) {
		out := make(chan T)
		flushes := make(chan struct{}, 1)
		go func() {
			defer close(flushes)
			defer close(out)
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-in:
					if !ok {
						select {
						case flushes <- struct{}{}:
						case <-ctx.Done():
						}
						return
					}
					select {
					case out <- item:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out, flushes
	})
}

// FlushBatch emits a flush signal after every n items, on every interval
// tick while the sequence is still being written, and once more on
// completion unless the last accepted item already triggered a count-based
// signal. n <= 0 disables count-based signals, interval <= 0 disables
// time-based signals.
func FlushBatch[T any](n int, interval time.Duration) FlushStrategy[T] {
	return FlushStrategyFunc[T](func(ctx context.Context, in <-chan T) (<-chan T, <-chan struct{}) {
		out := make(chan T)
		flushes := make(chan struct{}, 1)
		go func() {
			defer close(flushes)
			defer close(out)

			var timer *time.Timer
			var tick <-chan time.Time // nil when interval is disabled
			if interval > 0 {
				timer = timerPool.acquire(interval)
				defer timerPool.release(timer)
				tick = timer.C
			}

			count := 0
			for {
				select {
				case <-ctx.Done():
					return
				case <-tick:
					select {
					case flushes <- struct{}{}:
					case <-ctx.Done():
						return
					}
					timer.Reset(interval)
				case item, ok := <-in:
					if !ok {
						if n <= 0 || count == 0 || count%n != 0 {
							select {
							case flushes <- struct{}{}:
							case <-ctx.Done():
							}
						}
						return
					}
					select {
					case out <- item:
					case <-ctx.Done():
						return
					}
					count++
					if n > 0 && count%n == 0 {
						select {
						case flushes <- struct{}{}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}()
		return out, flushes
	})
}
