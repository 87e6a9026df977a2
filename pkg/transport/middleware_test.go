package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetries(n int) ReliabilityConfig {
	return ReliabilityConfig{
		MaxRetries:         n,
		InitialRetryDelay:  time.Millisecond,
		MaxRetryDelay:      5 * time.Millisecond,
		RetryBackoffFactor: 2.0,
	}
}

func TestReliabilityMiddlewareRetriesTransientErrors(t *testing.T) {
	var failures int
	inner := &mockListener{acceptFunc: func(ctx context.Context) (Channel, error) {
		if failures < 2 {
			failures++
			return nil, rmerrors.ConnectionLost("mock", "peer", errors.New("reset"))
		}
		return &httpChannel{id: "ok"}, nil
	}}

	l := NewReliabilityMiddleware(fastRetries(3), nil).Wrap(inner)
	ch, err := l.Accept(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", ch.ID())

	accepts, _, _ := inner.calls()
	assert.Equal(t, 3, accepts)
}

func TestReliabilityMiddlewareStopsOnPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid state", rmerrors.InvalidState("accept", "created")},
		{"cancelled", rmerrors.Cancelled("accept", context.Canceled)},
		{"closed", rmerrors.ListenerClosed("mock")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &mockListener{acceptFunc: func(ctx context.Context) (Channel, error) {
				return nil, tt.err
			}}
			l := NewReliabilityMiddleware(fastRetries(3), nil).Wrap(inner)
			_, err := l.Accept(context.Background())
			assert.Equal(t, tt.err, err)
			accepts, _, _ := inner.calls()
			assert.Equal(t, 1, accepts)
		})
	}
}

func TestReliabilityMiddlewareExhaustsRetries(t *testing.T) {
	inner := &mockListener{acceptFunc: func(ctx context.Context) (Channel, error) {
		return nil, rmerrors.CommunicationError("mock", "accept", errors.New("flaky"))
	}}
	l := NewReliabilityMiddleware(fastRetries(2), nil).Wrap(inner)

	_, err := l.Accept(context.Background())
	require.Error(t, err)
	assert.True(t, rmerrors.IsCode(err, rmerrors.CodeTransportError))
	accepts, _, _ := inner.calls()
	assert.Equal(t, 3, accepts)
}

func TestReliabilityMiddlewareHonorsCancellation(t *testing.T) {
	inner := &mockListener{acceptFunc: func(ctx context.Context) (Channel, error) {
		return nil, rmerrors.CommunicationError("mock", "accept", errors.New("flaky"))
	}}
	config := fastRetries(5)
	config.InitialRetryDelay = time.Hour
	config.MaxRetryDelay = time.Hour
	l := NewReliabilityMiddleware(config, nil).Wrap(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Accept(ctx)
	assert.True(t, rmerrors.IsCategory(err, rmerrors.CategoryCancelled))
}

func TestCalculateBackoff(t *testing.T) {
	config := ReliabilityConfig{InitialRetryDelay: 100 * time.Millisecond, MaxRetryDelay: time.Second, RetryBackoffFactor: 2.0}

	first := calculateBackoff(1, config)
	assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(10*time.Millisecond))

	third := calculateBackoff(3, config)
	assert.InDelta(t, float64(400*time.Millisecond), float64(third), float64(40*time.Millisecond))

	capped := calculateBackoff(10, config)
	assert.LessOrEqual(t, capped, time.Second+100*time.Millisecond)
}

type fakeChannelMetrics struct {
	mu       sync.Mutex
	accepted []string
	received int
	replies  int
	failed   int
}

func (f *fakeChannelMetrics) ChannelAccepted(shape string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, shape)
}

func (f *fakeChannelMetrics) ItemReceived(shape string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
}

func (f *fakeChannelMetrics) ReplySent(shape string, duration time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies++
	if err != nil {
		f.failed++
	}
}

func TestObservabilityMiddlewareCountsTraffic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	network := NewMemoryNetwork()
	inner, err := network.Listen("obs", ShapeDatagram, testConnectionConfig())
	require.NoError(t, err)

	metrics := &fakeChannelMetrics{}
	l := NewObservabilityMiddleware(logging.NewNopLogger(), metrics).Wrap(inner)
	require.NoError(t, l.Open(ctx))
	defer l.Abort()

	ch, err := l.Accept(ctx)
	require.NoError(t, err)

	client, err := network.Dial(ctx, "obs")
	require.NoError(t, err)
	request := testCreateSequence(t)
	response := testCreateSequence(t)

	done := make(chan error, 1)
	go func() {
		_, err := client.Request(ctx, request)
		done <- err
	}()

	item, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, item.Reply(ctx, response))
	require.Error(t, item.Reply(ctx, response))
	require.NoError(t, <-done)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"datagram"}, metrics.accepted)
	assert.Equal(t, 1, metrics.received)
	assert.Equal(t, 2, metrics.replies)
	assert.Equal(t, 1, metrics.failed)
}

func TestChainMiddlewareOrder(t *testing.T) {
	var order []string
	named := func(name string) Middleware {
		return MiddlewareFunc(func(l Listener) Listener {
			order = append(order, name)
			return l
		})
	}
	ChainMiddleware(named("outer"), named("inner")).Wrap(&mockListener{})
	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestMiddlewareBuilder(t *testing.T) {
	config := DefaultConfig()
	config.Features.EnableReliability = true
	config.Features.EnableObservability = true
	mw := NewMiddlewareBuilder(config, nil, &fakeChannelMetrics{}).Build()
	require.Len(t, mw, 2)
	assert.IsType(t, &ReliabilityMiddleware{}, mw[0])
	assert.IsType(t, &ObservabilityMiddleware{}, mw[1])

	config.Reliability.MaxRetries = 0
	config.Features.EnableObservability = false
	assert.Empty(t, NewMiddlewareBuilder(config, nil, nil).Build())
}
