package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

func newQueuedSession() *testSession {
	return &testSession{id: protocol.NewSequenceID(), faulted: make(chan struct{})}
}

func TestAcceptQueueStagesUntilDispatch(t *testing.T) {
	q := NewAcceptQueue()
	s := newQueuedSession()
	require.NoError(t, q.EnqueueWithoutDispatch(s))
	assert.Equal(t, 1, q.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := q.Dequeue(ctx)
	assert.Nil(t, got)
	assert.True(t, rmerrors.IsCategory(err, rmerrors.CategoryTimeout))

	q.Dispatch()
	got, err = q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), got.ID())
	assert.Equal(t, 0, q.Pending())
}

func TestAcceptQueueWakesWaiter(t *testing.T) {
	q := NewAcceptQueue()
	s := newQueuedSession()

	var wg sync.WaitGroup
	var got Session
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ = q.Dequeue(context.Background())
	}()

	require.NoError(t, q.EnqueueWithoutDispatch(s))
	q.Dispatch()
	wg.Wait()
	require.NotNil(t, got)
	assert.Equal(t, s.ID(), got.ID())
}

func TestAcceptQueueRejectsDoubleEnqueue(t *testing.T) {
	q := NewAcceptQueue()
	s := newQueuedSession()
	require.NoError(t, q.EnqueueWithoutDispatch(s))
	err := q.EnqueueWithoutDispatch(s)
	assert.True(t, rmerrors.IsInvariant(err))
}

func TestAcceptQueueClose(t *testing.T) {
	q := NewAcceptQueue()
	a, b := newQueuedSession(), newQueuedSession()
	require.NoError(t, q.EnqueueWithoutDispatch(a))
	q.Dispatch()
	require.NoError(t, q.EnqueueWithoutDispatch(b))

	left := q.Close()
	assert.Len(t, left, 2)
	assert.Nil(t, q.Close())
	assert.Equal(t, 0, q.Pending())

	got, err := q.Dequeue(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, got)

	err = q.EnqueueWithoutDispatch(newQueuedSession())
	assert.True(t, rmerrors.IsCode(err, rmerrors.CodeInvalidState))
}

func TestAcceptQueueCancelledDequeue(t *testing.T) {
	q := NewAcceptQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	assert.True(t, rmerrors.IsCategory(err, rmerrors.CategoryCancelled))
}
