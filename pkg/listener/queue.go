package listener

import (
	"context"
	"sync"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// AcceptQueue holds admitted sessions until the consumer accepts them.
// A session is staged by EnqueueWithoutDispatch and becomes visible to
// Dequeue after Dispatch.
type AcceptQueue struct {
	mu       sync.Mutex
	staged   []Session
	ready    []Session
	enqueued map[protocol.SequenceID]struct{}
	signal   chan struct{}
	closed   bool
}

// NewAcceptQueue creates an empty queue
func NewAcceptQueue() *AcceptQueue {
	return &AcceptQueue{
		enqueued: make(map[protocol.SequenceID]struct{}),
		signal:   make(chan struct{}),
	}
}

// EnqueueWithoutDispatch stages s. A session can be enqueued once.
func (q *AcceptQueue) EnqueueWithoutDispatch(s Session) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return rmerrors.ListenerClosed("accept_queue")
	}
	if _, ok := q.enqueued[s.ID()]; ok {
		return rmerrors.InvariantViolation("session %s enqueued twice", s.ID())
	}
	q.enqueued[s.ID()] = struct{}{}
	q.staged = append(q.staged, s)
	return nil
}

// Dispatch makes every staged session available to Dequeue
func (q *AcceptQueue) Dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.staged) == 0 {
		return
	}
	q.ready = append(q.ready, q.staged...)
	q.staged = nil
	q.wakeLocked()
}

func (q *AcceptQueue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Dequeue waits for the next dispatched session. It returns (nil, nil) once
// the queue is closed and drained.
func (q *AcceptQueue) Dequeue(ctx context.Context) (Session, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			s := q.ready[0]
			q.ready[0] = nil
			q.ready = q.ready[1:]
			delete(q.enqueued, s.ID())
			q.mu.Unlock()
			return s, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, rmerrors.WrapError(ctx.Err(), rmerrors.CodeOperationTimeout,
					"accept timed out", rmerrors.CategoryTimeout, rmerrors.SeverityWarning)
			}
			return nil, rmerrors.Cancelled("accept", ctx.Err())
		}
	}
}

// Pending counts sessions enqueued but not yet dequeued
func (q *AcceptQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.staged) + len(q.ready)
}

// Close stops the queue and returns the sessions nobody accepted
func (q *AcceptQueue) Close() []Session {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	left := append(q.ready, q.staged...)
	q.ready, q.staged = nil, nil
	q.enqueued = make(map[protocol.SequenceID]struct{})
	q.wakeLocked()
	return left
}
