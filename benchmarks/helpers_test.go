package benchmarks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	"github.com/ajitpratap0/wsrm-go/pkg/listener"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

var benchSeq atomic.Int64

// benchSession replies to its create and acknowledges nothing
type benchSession struct {
	id        protocol.SequenceID
	v         protocol.Version
	handle    *listener.SessionHandle
	delivered atomic.Int64
	faultOnce sync.Once
}

func (s *benchSession) ID() protocol.SequenceID {
	return s.id
}

func (s *benchSession) Deliver(ctx context.Context, item transport.Item, info *decoder.MessageInfo) error {
	s.delivered.Add(1)
	if info.CreateSequence == nil {
		return nil
	}
	reply, err := listener.CreateSequenceResponse(s.v, s.handle, info.CreateSequence, "")
	if err != nil {
		return err
	}
	return item.Reply(ctx, reply)
}

func (s *benchSession) Fault(error) {}

type benchFixture struct {
	network  *transport.MemoryNetwork
	listener *listener.Listener
	addr     string
	v        protocol.Version
}

func newBenchFixture(tb testing.TB, v protocol.Version, maxPending int) *benchFixture {
	tb.Helper()
	addr := fmt.Sprintf("bench-%d", benchSeq.Add(1))
	network := transport.NewMemoryNetwork()
	connection := transport.DefaultConfig().Connection
	connection.ReceiveBuffer = 256
	inner, err := network.Listen(addr, transport.ShapeDatagram, connection)
	if err != nil {
		tb.Fatal(err)
	}

	settings := transport.DefaultReliableSessionConfig()
	settings.Version = v.String()
	settings.ReceiveTimeout = 200 * time.Millisecond
	settings.MaxPendingChannels = 1024
	if maxPending > 0 {
		settings.MaxPendingChannels = maxPending
	}

	factory := func(id protocol.SequenceID, info *decoder.CreateSequenceInfo, binder *listener.Binder, handle *listener.SessionHandle) (listener.Session, error) {
		return &benchSession{id: id, v: v, handle: handle}, nil
	}
	l, err := listener.New(inner, factory,
		listener.WithSettings(settings),
		listener.WithChannelKind(listener.KindInput))
	if err != nil {
		tb.Fatal(err)
	}
	if err := l.Open(context.Background()); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(l.Abort)
	return &benchFixture{network: network, listener: l, addr: addr, v: v}
}

func (f *benchFixture) dial(tb testing.TB) *transport.MemoryClient {
	tb.Helper()
	client, err := f.network.Dial(context.Background(), f.addr)
	if err != nil {
		tb.Fatal(err)
	}
	return client
}

// create admits a sequence and returns its identifier. A refused create
// returns the fault.
func (f *benchFixture) create(ctx context.Context, client *transport.MemoryClient) (protocol.SequenceID, error) {
	msg, err := protocol.NewCreateSequence(f.v, "memory://"+f.addr, protocol.AnonymousAddress, nil)
	if err != nil {
		return "", err
	}
	reply, err := client.Request(ctx, msg)
	if err != nil {
		return "", err
	}
	if reply == nil {
		return "", fmt.Errorf("no reply to create")
	}
	if reply.IsFault() {
		fault, err := protocol.ReadFault(reply, f.v.Namespace())
		if err != nil {
			return "", err
		}
		return "", fault
	}
	info := decoder.Decode(f.v, decoder.SessionContext{}, reply)
	if info.CreateSequenceResponse == nil {
		return "", fmt.Errorf("unexpected reply %s", reply.Action)
	}
	return info.CreateSequenceResponse.Identifier, nil
}
