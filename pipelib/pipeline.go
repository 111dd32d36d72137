// Package pipelib multiplexes many logical request/response exchanges over
// one duplex connection. Requests are written one at a time in admission
// order, responses are read back in the same order, and the number of
// concurrently pending requests is bounded. A later request's write may
// overlap an earlier request's read, which is what keeps the connection
// pipelined rather than strictly serial.
package pipelib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxPendingRequests bounds pipelining depth when the caller does not
// configure one.
const DefaultMaxPendingRequests = 8

// Config contains configuration options for a Pipeline.
type Config struct {
	// MaxPendingRequests is the maximum number of admitted requests that
	// have not yet been fully read. Admissions beyond it fail with
	// ErrQueueFull. Default is DefaultMaxPendingRequests.
	MaxPendingRequests int
	// Logger receives pipeline lifecycle events. Default is NopLogger.
	Logger Logger
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxPendingRequests: DefaultMaxPendingRequests,
		Logger:             NopLogger{},
	}
}

// Pipeline shares one Conn among concurrent logical requests. All queue and
// request state transitions are confined to the write loop, the read loop,
// and a small admission critical section; requests are handed into the
// loops through bounded channels.
type Pipeline[W, R any] struct {
	conn   Conn[W, R]
	max    int
	logger Logger

	mu      sync.Mutex
	pending int    // requests admitted and not yet terminal
	seq     uint64 // admission counter
	closed  bool

	// Capacity of both queues equals max, and a request occupies at most
	// one queue slot at a time, so sends under the pending bound never
	// block.
	writeQueue chan *pendingRequest[W, R]
	readQueue  chan *pendingRequest[W, R]

	prPool *pendingRequestPool[W, R]

	lctx     context.Context // cancelled once the pipeline shuts down
	lcancel  context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	eg       errgroup.Group
}

// New creates a Pipeline over conn and starts its write and read loops.
// A nil config uses DefaultConfig.
func New[W, R any](conn Conn[W, R], config *Config) *Pipeline[W, R] {
	if config == nil {
		config = DefaultConfig()
	}
	max := config.MaxPendingRequests
	if max <= 0 {
		max = DefaultMaxPendingRequests
	}
	logger := config.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	p := &Pipeline[W, R]{
		conn:       conn,
		max:        max,
		logger:     logger,
		writeQueue: make(chan *pendingRequest[W, R], max),
		readQueue:  make(chan *pendingRequest[W, R], max),
		prPool:     newPendingRequestPool[W, R](),
		done:       make(chan struct{}),
	}
	p.lctx, p.lcancel = context.WithCancel(context.Background())
	p.eg.Go(p.writeLoop)
	p.eg.Go(p.readLoop)
	return p
}

// Request admits a logical request whose outbound sequence is items and
// returns its response slice. The write path drains items until the channel
// is closed, flushing per strategy. A nil strategy means FlushOnEnd. It
// fails immediately with ErrQueueFull when the pipelining depth is
// exhausted, or ErrClosed after the connection has closed.
//
// Producers feeding items should watch for the request's termination (via
// their own ctx or the Response); once the request ends, nothing drains the
// channel anymore.
func (p *Pipeline[W, R]) Request(ctx context.Context, items <-chan W, strategy FlushStrategy[W]) (*Response[R], error) {
	if strategy == nil {
		strategy = FlushOnEnd[W]()
	}
	return p.admit(ctx, items, strategy, nil)
}

// RequestItem admits a request with a single outbound item, flushed once it
// has been written.
func (p *Pipeline[W, R]) RequestItem(ctx context.Context, item W) (*Response[R], error) {
	items := make(chan W, 1)
	items <- item
	close(items)
	return p.admit(ctx, items, FlushOnEnd[W](), nil)
}

// RequestWriter admits a request whose write phase is performed by w itself
// rather than by draining an item sequence. The Pipeline invokes w.Write
// when the request reaches the head of the write queue.
func (p *Pipeline[W, R]) RequestWriter(ctx context.Context, w Writer) (*Response[R], error) {
	return p.admit(ctx, nil, nil, w)
}

// PendingRequests returns the number of admitted requests that have not yet
// reached a terminal state.
func (p *Pipeline[W, R]) PendingRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Close fails every pending request with ErrClosed, closes the underlying
// connection and waits for the loops to stop.
func (p *Pipeline[W, R]) Close() error {
	p.shutdown()
	err := p.conn.Close()
	<-p.done
	return err
}

// StartPoolMetrics begins folding this pipeline's pool window counters into
// their accumulative totals. Pair with ReleasePoolMetrics before Close.
func (p *Pipeline[W, R]) StartPoolMetrics() {
	p.prPool.m.start()
}

func (p *Pipeline[W, R]) ReleasePoolMetrics() {
	p.prPool.m.release()
}

// JsonStringPoolMetrics reports the pipeline's object pool metrics.
func (p *Pipeline[W, R]) JsonStringPoolMetrics() string {
	return fmt.Sprintf("{\"TimerPool\" = %s, \"pendingRequestPool\" = %s}",
		timerPool.m.metricsString(),
		p.prPool.m.metricsString(),
	)
}

func (p *Pipeline[W, R]) admit(ctx context.Context, items <-chan W, strategy FlushStrategy[W], w Writer) (*Response[R], error) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.pending >= p.max {
		p.mu.Unlock()
		return nil, ErrQueueFull
	}
	p.pending++
	p.seq++

	rctx, cancel := context.WithCancel(ctx)
	pr := p.prPool.acquire(p.seq, rctx, cancel, items, strategy, w)
	p.writeQueue <- pr // space guaranteed by the pending bound
	p.mu.Unlock()

	return pr.resp, nil
}

func (p *Pipeline[W, R]) writeLoop() error {
	for {
		select {
		case <-p.lctx.Done():
			return nil
		case pr := <-p.writeQueue:
			if err := pr.ctx.Err(); err != nil {
				p.finish(pr, err)
				continue
			}
			pr.setState(stateWriting)

			// The write must also abort when the pipeline shuts down, not
			// only when this request is cancelled.
			wctx, wcancel := context.WithCancel(pr.ctx)
			unwatch := context.AfterFunc(p.lctx, wcancel)

			var err error
			if pr.writer != nil {
				err = pr.writer.Write()
			} else {
				err = p.conn.Write(wctx, pr.items, pr.strategy)
			}
			unwatch()
			wcancel()

			if err != nil {
				switch {
				case pr.ctx.Err() != nil:
					p.finish(pr, pr.ctx.Err())
				case p.lctx.Err() != nil:
					p.finish(pr, ErrClosed)
				default:
					p.logger.Errorf("pipeline: request %d write failed: %v", pr.seq, err)
					p.finish(pr, fmt.Errorf("write request: %w", err))
				}
				continue
			}

			pr.setState(stateAwaitingRead)
			select {
			case <-p.lctx.Done():
				p.finish(pr, ErrClosed)
				return nil
			default:
				p.readQueue <- pr
			}
		}
	}
}

func (p *Pipeline[W, R]) readLoop() error {
	inbound := p.conn.Read()
	for {
		select {
		case <-p.lctx.Done():
			return nil
		case pr := <-p.readQueue:
			if !p.readSlice(pr, inbound, nil) {
				return p.inboundClosed()
			}
		case item, ok := <-inbound:
			if !ok {
				return p.inboundClosed()
			}
			// The next response began arriving before its request entered
			// the read phase; hold the item for the head request.
			select {
			case <-p.lctx.Done():
				return nil
			case pr := <-p.readQueue:
				if !p.readSlice(pr, inbound, &item) {
					return p.inboundClosed()
				}
			}
		}
	}
}

func (p *Pipeline[W, R]) inboundClosed() error {
	p.logger.Warnf("pipeline: inbound stream closed")
	p.shutdown()
	return ErrClosed
}

// readSlice consumes pr's slice of the inbound stream, delimited by the
// connection's terminal predicate. held, when non-nil, is an item already
// taken off the stream that belongs to this slice. It returns false once
// the inbound stream itself has ended.
func (p *Pipeline[W, R]) readSlice(pr *pendingRequest[W, R], inbound <-chan R, held *R) bool {
	if err := pr.ctx.Err(); err != nil {
		// The slice is abandoned along with any held item; resynchronizing
		// the stream is the transport's concern.
		p.finish(pr, err)
		return true
	}
	pr.setState(stateReading)

	if held != nil {
		if p.deliver(pr, *held) != deliverNext {
			return true
		}
	}
	for {
		select {
		case <-p.lctx.Done():
			p.finish(pr, ErrClosed)
			return true
		case <-pr.ctx.Done():
			p.finish(pr, pr.ctx.Err())
			return true
		case item, ok := <-inbound:
			if !ok {
				p.finish(pr, ErrClosed)
				return false
			}
			if p.deliver(pr, item) != deliverNext {
				return true
			}
		}
	}
}

type deliverResult int

const (
	deliverNext deliverResult = iota // slice continues
	deliverDone                      // pr reached a terminal state
	deliverStop                      // pipeline is shutting down
)

// deliver forwards one inbound item to pr's response, completing pr when
// the item is terminal.
func (p *Pipeline[W, R]) deliver(pr *pendingRequest[W, R], item R) deliverResult {
	terminal := p.conn.IsTerminal(item)
	select {
	case pr.resp.items <- item:
	case <-pr.ctx.Done():
		p.finish(pr, pr.ctx.Err())
		return deliverDone
	case <-p.lctx.Done():
		p.finish(pr, ErrClosed)
		return deliverStop
	}
	if terminal {
		p.finish(pr, nil)
		return deliverDone
	}
	return deliverNext
}

// finish moves pr to its terminal state, terminates its response, frees the
// pipelining slot and returns pr to the pool. Each pending request is
// finished exactly once: by whichever loop or drain owns it at the time.
func (p *Pipeline[W, R]) finish(pr *pendingRequest[W, R], err error) {
	switch {
	case err == nil:
		pr.setState(stateCompleted)
		pr.resp.err = io.EOF
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		pr.setState(stateCancelled)
		pr.resp.err = err
	default:
		pr.setState(stateCompleted)
		pr.resp.err = err
	}
	pr.cancel() // releases the flush stage and any stuck producer

	p.mu.Lock()
	p.pending--
	p.mu.Unlock()

	close(pr.resp.items)
	p.prPool.release(pr)
}

// shutdown stops the loops, then fails whatever requests are still queued.
// Draining runs after both loops have exited so that a request handed over
// between the queues cannot be stranded.
func (p *Pipeline[W, R]) shutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.lcancel()

		go func() {
			_ = p.eg.Wait()
			failed := 0
			for {
				select {
				case pr := <-p.writeQueue:
					p.finish(pr, ErrClosed)
					failed++
				case pr := <-p.readQueue:
					p.finish(pr, ErrClosed)
					failed++
				default:
					if failed > 0 {
						p.logger.Warnf("pipeline: failed %d pending requests on close", failed)
					}
					close(p.done)
					return
				}
			}
		}()
	})
}
