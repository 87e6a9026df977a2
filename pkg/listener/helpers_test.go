package listener

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

var versions = []protocol.Version{protocol.WSRMFeb2005, protocol.WSRM11}

// testSession answers its CreateSequence and records every delivery
type testSession struct {
	id     protocol.SequenceID
	v      protocol.Version
	info   *decoder.CreateSequenceInfo
	binder *Binder
	handle *SessionHandle

	mu        sync.Mutex
	delivered []*decoder.MessageInfo
	faultErr  error
	faulted   chan struct{}
	faultOnce sync.Once

	// deliverErr is returned by Deliver when set
	deliverErr error
}

func (s *testSession) ID() protocol.SequenceID {
	return s.id
}

func (s *testSession) Deliver(ctx context.Context, item transport.Item, info *decoder.MessageInfo) error {
	s.mu.Lock()
	s.delivered = append(s.delivered, info)
	err := s.deliverErr
	s.mu.Unlock()

	if info.CreateSequence != nil {
		reply, rerr := CreateSequenceResponse(s.v, s.handle, info.CreateSequence, "")
		if rerr != nil {
			return rerr
		}
		if rerr := item.Reply(ctx, reply); rerr != nil {
			return rerr
		}
	}
	return err
}

func (s *testSession) Fault(err error) {
	s.faultOnce.Do(func() {
		s.mu.Lock()
		s.faultErr = err
		s.mu.Unlock()
		close(s.faulted)
	})
}

func (s *testSession) deliveries() []*decoder.MessageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*decoder.MessageInfo(nil), s.delivered...)
}

func (s *testSession) isFaulted() bool {
	select {
	case <-s.faulted:
		return true
	default:
		return false
	}
}

// sessionRecorder is a SessionFactory keeping every session it built
type sessionRecorder struct {
	v protocol.Version

	mu       sync.Mutex
	sessions []*testSession
	err      error
}

func (r *sessionRecorder) factory(id protocol.SequenceID, info *decoder.CreateSequenceInfo, binder *Binder, handle *SessionHandle) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s := &testSession{id: id, v: r.v, info: info, binder: binder, handle: handle, faulted: make(chan struct{})}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *sessionRecorder) all() []*testSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*testSession(nil), r.sessions...)
}

func testSettings(v protocol.Version) transport.ReliableSessionConfig {
	settings := transport.DefaultReliableSessionConfig()
	settings.Version = v.String()
	settings.ReceiveTimeout = 200 * time.Millisecond
	settings.SendTimeout = 2 * time.Second
	settings.CloseTimeout = 2 * time.Second
	settings.OpenTimeout = 2 * time.Second
	return settings
}

// memoryFixture is an open listener over the memory transport
type memoryFixture struct {
	network  *transport.MemoryNetwork
	inner    *transport.MemoryListener
	listener *Listener
	recorder *sessionRecorder
	v        protocol.Version
	addr     string
}

var fixtureSeq int
var fixtureMu sync.Mutex

func newMemoryFixture(t *testing.T, v protocol.Version, shape transport.Shape, opts ...Option) *memoryFixture {
	t.Helper()
	fixtureMu.Lock()
	fixtureSeq++
	addr := fmt.Sprintf("rm-%d", fixtureSeq)
	fixtureMu.Unlock()

	network := transport.NewMemoryNetwork()
	inner, err := network.Listen(addr, shape, transport.DefaultConfig().Connection)
	require.NoError(t, err)

	recorder := &sessionRecorder{v: v}
	opts = append([]Option{WithSettings(testSettings(v))}, opts...)
	l, err := New(inner, recorder.factory, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Open(context.Background()))
	t.Cleanup(l.Abort)

	return &memoryFixture{network: network, inner: inner, listener: l, recorder: recorder, v: v, addr: addr}
}

func (f *memoryFixture) dial(t *testing.T) *transport.MemoryClient {
	t.Helper()
	client, err := f.network.Dial(context.Background(), f.addr)
	require.NoError(t, err)
	return client
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func createSequence(t *testing.T, v protocol.Version, offer protocol.SequenceID) *protocol.Message {
	t.Helper()
	var o *protocol.Offer
	if !offer.IsZero() {
		o = &protocol.Offer{Identifier: offer}
	}
	msg, err := protocol.NewCreateSequence(v, "http://host/rm", "http://client/acks", o)
	require.NoError(t, err)
	return msg
}

func sequenced(t *testing.T, v protocol.Version, id protocol.SequenceID, number int64) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewSequencedMessage(v, "urn:test:ping", id, number, false, nil)
	require.NoError(t, err)
	return msg
}

// createdID reads the sequence id from a CreateSequenceResponse
func createdID(t *testing.T, v protocol.Version, reply *protocol.Message) protocol.SequenceID {
	t.Helper()
	require.NotNil(t, reply)
	require.False(t, reply.IsFault(), "unexpected fault %s", reply.Action)
	info := decoder.Decode(v, decoder.SessionContext{}, reply)
	require.NotNil(t, info.CreateSequenceResponse)
	return info.CreateSequenceResponse.Identifier
}

func readFault(t *testing.T, v protocol.Version, reply *protocol.Message) *protocol.Fault {
	t.Helper()
	require.NotNil(t, reply)
	require.True(t, reply.IsFault())
	fault, err := protocol.ReadFault(reply, v.Namespace())
	require.NoError(t, err)
	return fault
}
