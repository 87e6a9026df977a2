package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// mockListener is a test listener whose behavior the test controls
type mockListener struct {
	mu          sync.Mutex
	acceptFunc  func(ctx context.Context) (Channel, error)
	closeErr    error
	acceptCalls int
	closeCalls  int
	abortCalls  int
}

func (m *mockListener) Open(ctx context.Context) error { return nil }

func (m *mockListener) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.closeErr
}

func (m *mockListener) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCalls++
}

func (m *mockListener) Accept(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	m.acceptCalls++
	fn := m.acceptFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (m *mockListener) Shape() Shape { return ShapeDatagram }
func (m *mockListener) Addr() string { return "mock://test" }

func (m *mockListener) calls() (accept, close, abort int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acceptCalls, m.closeCalls, m.abortCalls
}

// testCreateSequence builds a CreateSequence envelope
func testCreateSequence(t *testing.T) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewCreateSequence(protocol.WSRM11, "http://example.org/rm", protocol.AnonymousAddress, nil)
	require.NoError(t, err)
	return msg
}

func testConnectionConfig() ConnectionConfig {
	config := DefaultConfig().Connection
	config.ReplyTimeout = 5 * time.Second
	return config
}

// WaitForCondition polls check until it returns true or timeout elapses
func WaitForCondition(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %v: %s", timeout, msg)
}
