package listener

import (
	"context"
	"sync"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// Session is one admitted reliable sequence. Implementations are built by a
// SessionFactory and own the retransmission and acknowledgement machinery of
// the sequence.
type Session interface {
	// ID returns the inbound sequence identifier allocated at admission
	ID() protocol.SequenceID

	// Deliver hands the session a message routed to it. The session owns
	// item until Deliver returns and answers it with Reply if needed; the
	// listener closes item afterwards. Deliver may run concurrently with
	// the next receive on the same inner channel.
	Deliver(ctx context.Context, item transport.Item, info *decoder.MessageInfo) error

	// Fault tears the session down because the listener can no longer
	// serve it
	Fault(err error)
}

// SessionFactory builds the session for a newly admitted sequence. It is
// called with the listener lock held and must not block.
type SessionFactory func(id protocol.SequenceID, info *decoder.CreateSequenceInfo, binder *Binder, handle *SessionHandle) (Session, error)

// Binder ties a session to the inner channel it talks on. On a
// session-shaped transport a retransmitted CreateSequence may arrive on a
// new connection; the binder decides whether the session moves to it.
type Binder struct {
	mu        sync.Mutex
	channel   transport.Channel
	shape     transport.Shape
	connected bool
}

func newBinder(ch transport.Channel, shape transport.Shape) *Binder {
	return &Binder{channel: ch, shape: shape, connected: true}
}

// Channel returns the inner channel the session currently uses. The pump
// owns the channel and aborts it when the listener shuts down.
func (b *Binder) Channel() transport.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

// Shape reports the shape of the inner listener
func (b *Binder) Shape() transport.Shape {
	return b.shape
}

// Connected reports whether the bound channel is still receiving
func (b *Binder) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// UseNewChannel rebinds the session to ch. It succeeds only on a
// session-shaped transport once the previous channel has ended.
func (b *Binder) UseNewChannel(ch transport.Channel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shape != transport.ShapeSession || b.connected {
		return false
	}
	b.channel = ch
	b.connected = true
	return true
}

// channelEnded records that ch reached end of stream
func (b *Binder) channelEnded(ch transport.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel == ch {
		b.connected = false
	}
}

// SessionHandle is the session's way back into the listener. A session
// calls exactly one of OnAbort, OnClose or OnCloseAsync when it ends.
type SessionHandle struct {
	listener *Listener
	inputID  protocol.SequenceID
	outputID protocol.SequenceID
}

// InputID is the inbound sequence the session was admitted with
func (h *SessionHandle) InputID() protocol.SequenceID {
	return h.inputID
}

// OutputID is the accepted offer, empty when there is none
func (h *SessionHandle) OutputID() protocol.SequenceID {
	return h.outputID
}

// OnAbort releases the session's table slot immediately
func (h *SessionHandle) OnAbort() {
	h.listener.onSessionAbort(h.inputID, h.outputID)
}

// OnClose releases the session's table slot. When the listener is closed
// and this is the last session, the inner listener is closed first.
func (h *SessionHandle) OnClose(ctx context.Context) error {
	return h.listener.onSessionClose(ctx, h.inputID, h.outputID)
}

// OnCloseAsync runs OnClose in the background. The returned channel yields
// its result and is then closed.
func (h *SessionHandle) OnCloseAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- h.OnClose(ctx)
	}()
	return done
}

// CreateSequenceResponse builds the response a session sends for the
// CreateSequence it was admitted with. acksTo is the endpoint accepting
// acknowledgements for an accepted offer and is ignored without one.
func CreateSequenceResponse(v protocol.Version, handle *SessionHandle, info *decoder.CreateSequenceInfo, acksTo string) (*protocol.Message, error) {
	accept := ""
	if !handle.OutputID().IsZero() {
		accept = acksTo
		if accept == "" {
			accept = protocol.AnonymousAddress
		}
	}
	return protocol.NewCreateSequenceResponse(v, info.MessageID, handle.InputID(), accept)
}
