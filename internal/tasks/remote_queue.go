package tasks

import (
	"context"
	"sync"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opComplete
	opDelete
	opRefresh
	opBarrier
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	case opComplete:
		return "complete"
	case opDelete:
		return "delete"
	case opRefresh:
		return "list"
	default:
		return "barrier"
	}
}

type remoteOp struct {
	kind   opKind
	taskID string
	task   Task
	patch  Patch

	ctx    context.Context
	result chan error
	done   chan struct{}
}

// remoteQueue is an unbounded FIFO drained by one worker, so remote writes
// reach the store in the order intents were applied locally.
type remoteQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ops    []remoteOp
	closed bool
}

func newRemoteQueue() *remoteQueue {
	q := &remoteQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *remoteQueue) push(op remoteOp) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.ops = append(q.ops, op)
	q.cond.Signal()
	return true
}

// next blocks until an op is available. It returns false once the queue is
// closed and drained.
func (q *remoteQueue) next() (remoteOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ops) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.ops) == 0 {
		return remoteOp{}, false
	}
	op := q.ops[0]
	q.ops[0] = remoteOp{}
	q.ops = q.ops[1:]
	return op, true
}

func (q *remoteQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *remoteQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
