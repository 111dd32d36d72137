package pipelib

import (
	"context"
	"sync"
	"sync/atomic"
)

// pendingRequest is one logical request admitted into the pipeline. It is
// owned exclusively by the Pipeline's loops until it reaches a terminal
// state, at which point it is returned to the pool. The Response escapes to
// the caller and is never pooled.
type pendingRequest[W, R any] struct {
	seq      uint64 // admission order, monotonically increasing
	ctx      context.Context
	cancel   context.CancelFunc
	items    <-chan W
	strategy FlushStrategy[W]
	writer   Writer // set for writer-action requests instead of items
	state    int32
	resp     *Response[R]
}

type pendingRequestPool[W, R any] struct {
	sp sync.Pool
	m  *PoolMetrics
}

func newPendingRequestPool[W, R any]() *pendingRequestPool[W, R] {
	return &pendingRequestPool[W, R]{sp: sync.Pool{}, m: newPoolMetrics()}
}

func (p *pendingRequestPool[W, R]) acquire(
	seq uint64,
	ctx context.Context,
	cancel context.CancelFunc,
	items <-chan W,
	strategy FlushStrategy[W],
	writer Writer,
) *pendingRequest[W, R] {
	v := p.sp.Get()
	if v == nil {
		v = &pendingRequest[W, R]{}
		atomic.AddUint32(&p.m.na, uint32(1))
	} else {
		atomic.AddUint32(&p.m.nr, uint32(1))
	}
	pr := v.(*pendingRequest[W, R])
	pr.seq = seq
	pr.ctx = ctx
	pr.cancel = cancel
	pr.items = items
	pr.strategy = strategy
	pr.writer = writer
	pr.setState(stateQueued)
	pr.resp = &Response[R]{items: make(chan R), cancel: cancel}
	return pr
}

func (p *pendingRequestPool[W, R]) release(pr *pendingRequest[W, R]) {
	pr.ctx = nil
	pr.cancel = nil
	pr.items = nil
	pr.strategy = nil
	pr.writer = nil
	pr.resp = nil
	p.sp.Put(pr)
	atomic.AddUint32(&p.m.np, uint32(1))
}
