package transport

import (
	"context"
	"errors"
	"net/url"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
)

// Shape describes how an inner listener hands out traffic
type Shape int

const (
	// ShapeDatagram channels yield independent request exchanges from any
	// number of peers. HTTP is datagram shaped.
	ShapeDatagram Shape = iota
	// ShapeSession channels belong to one peer connection. A WebSocket
	// connection is session shaped.
	ShapeSession
)

// String returns the shape name used in logs and metric labels
func (s Shape) String() string {
	switch s {
	case ShapeDatagram:
		return "datagram"
	case ShapeSession:
		return "session"
	default:
		return "unknown"
	}
}

// Listener is the inner transport listener the reliable session layer
// rides on. Every blocking call honors the context deadline.
type Listener interface {
	// Open starts listening
	Open(ctx context.Context) error

	// Close stops listening gracefully
	Close(ctx context.Context) error

	// Abort stops listening immediately. It is safe to call more than once.
	Abort()

	// Accept waits for the next inner channel. It returns a nil channel and
	// a nil error once the listener has been closed.
	Accept(ctx context.Context) (Channel, error)

	// Shape reports how the listener's channels carry traffic
	Shape() Shape

	// Addr is the address peers send to
	Addr() string
}

// Channel is one inner channel yielded by a Listener
type Channel interface {
	// ID identifies the channel in logs
	ID() string

	// Receive waits for the next request. It returns (nil, nil) when the
	// peer has ended the stream.
	Receive(ctx context.Context) (Item, error)

	// Abort tears the channel down immediately
	Abort()

	// Close shuts the channel down gracefully
	Close(ctx context.Context) error
}

// Item is one received message together with the means to answer it
type Item interface {
	// Message returns the decoded envelope
	Message() *protocol.Message

	// Reply sends msg back to the peer that sent the item. At most one
	// reply is accepted per item.
	Reply(ctx context.Context, msg *protocol.Message) error

	// Close releases the item. An item closed without a reply is answered
	// with an empty acknowledgement where the transport needs one.
	Close()
}

// ListenerFactory builds a listener for a URI. The scheme selects the factory
// in a Registry.
type ListenerFactory func(ctx context.Context, uri *url.URL, config Config) (Listener, error)

// contextError maps a context failure of a blocking call to an RM error
func contextError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return rmerrors.WrapError(err, rmerrors.CodeOperationTimeout,
			operation+" timed out", rmerrors.CategoryTimeout, rmerrors.SeverityWarning)
	}
	return rmerrors.Cancelled(operation, err)
}
