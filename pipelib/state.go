package pipelib

import "sync/atomic"

// requestState tracks where a pending request sits in its lifecycle:
// Queued -> Writing -> AwaitingRead -> Reading -> Completed, with Cancelled
// reachable from any non-terminal state.
type requestState int32

const (
	stateQueued requestState = iota
	stateWriting
	stateAwaitingRead
	stateReading
	stateCompleted
	stateCancelled
)

func (s requestState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateWriting:
		return "writing"
	case stateAwaitingRead:
		return "awaiting-read"
	case stateReading:
		return "reading"
	case stateCompleted:
		return "completed"
	case stateCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (pr *pendingRequest[W, R]) setState(s requestState) { atomic.StoreInt32(&pr.state, int32(s)) }

func (pr *pendingRequest[W, R]) getState() requestState {
	return requestState(atomic.LoadInt32(&pr.state))
}
