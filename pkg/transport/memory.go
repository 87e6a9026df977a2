package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/google/uuid"
)

// SchemeMemory selects the in-process transport
const SchemeMemory = "memory"

var (
	errAlreadyReplied = errors.New("item already replied to")
	errItemClosed     = errors.New("item closed")
)

// MemoryNetwork connects in-process clients to memory listeners by address
type MemoryNetwork struct {
	mu        sync.Mutex
	listeners map[string]*MemoryListener
}

// NewMemoryNetwork creates an empty network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{listeners: make(map[string]*MemoryListener)}
}

// Factory builds memory listeners for URIs such as memory://orders or
// memory://orders?shape=session
func (n *MemoryNetwork) Factory() ListenerFactory {
	return func(ctx context.Context, uri *url.URL, config Config) (Listener, error) {
		shape := ShapeDatagram
		if strings.EqualFold(uri.Query().Get("shape"), ShapeSession.String()) {
			shape = ShapeSession
		}
		return n.Listen(uri.Host+uri.Path, shape, config.Connection)
	}
}

// Listen creates a listener bound to addr. The address stays taken until
// the listener is closed or aborted.
func (n *MemoryNetwork) Listen(addr string, shape Shape, config ConnectionConfig) (*MemoryListener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[addr]; ok {
		return nil, rmerrors.TransportError(SchemeMemory, "listen", errors.New("address in use: "+addr))
	}
	backlog := config.AcceptBacklog
	if backlog <= 0 {
		backlog = 1
	}
	l := &MemoryListener{
		network:       n,
		addr:          addr,
		shape:         shape,
		receiveBuffer: config.ReceiveBuffer,
		backlog:       make(chan *memoryChannel, backlog),
		done:          make(chan struct{}),
		channels:      make(map[*memoryChannel]struct{}),
	}
	n.listeners[addr] = l
	return l, nil
}

// Dial connects a client to the listener at addr
func (n *MemoryNetwork) Dial(ctx context.Context, addr string) (*MemoryClient, error) {
	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, rmerrors.ConnectionLost(SchemeMemory, addr, errors.New("no listener"))
	}
	return l.dial(ctx)
}

func (n *MemoryNetwork) release(l *MemoryListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners[l.addr] == l {
		delete(n.listeners, l.addr)
	}
}

// MemoryListener is an in-process inner listener. A datagram listener
// yields one shared channel carrying every client's requests; a session
// listener yields one channel per dialed client.
type MemoryListener struct {
	network       *MemoryNetwork
	addr          string
	shape         Shape
	receiveBuffer int

	mu       sync.Mutex
	opened   bool
	closed   bool
	shared   *memoryChannel
	channels map[*memoryChannel]struct{}

	backlog   chan *memoryChannel
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts accepting clients
func (l *MemoryListener) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return rmerrors.ListenerClosed(SchemeMemory)
	}
	if l.opened {
		return rmerrors.InvalidState("open", "open")
	}
	l.opened = true
	if l.shape == ShapeDatagram {
		l.shared = l.newChannelLocked()
		l.backlog <- l.shared
	}
	return nil
}

// Close stops accepting. Accepted channels stay usable.
func (l *MemoryListener) Close(ctx context.Context) error {
	l.shutdown()
	return nil
}

// Abort stops accepting and aborts every accepted channel
func (l *MemoryListener) Abort() {
	l.shutdown()
	l.mu.Lock()
	channels := make([]*memoryChannel, 0, len(l.channels))
	for ch := range l.channels {
		channels = append(channels, ch)
	}
	l.mu.Unlock()
	for _, ch := range channels {
		ch.Abort()
	}
}

func (l *MemoryListener) shutdown() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
		l.network.release(l)
	})
}

// Accept waits for the next channel. It returns (nil, nil) once closed.
func (l *MemoryListener) Accept(ctx context.Context) (Channel, error) {
	l.mu.Lock()
	opened := l.opened
	l.mu.Unlock()
	if !opened {
		return nil, rmerrors.InvalidState("accept", "created")
	}

	select {
	case ch := <-l.backlog:
		return ch, nil
	case <-l.done:
		return nil, nil
	case <-ctx.Done():
		return nil, contextError("accept", ctx.Err())
	}
}

// Shape reports the listener shape
func (l *MemoryListener) Shape() Shape {
	return l.shape
}

// Addr returns the memory address
func (l *MemoryListener) Addr() string {
	return SchemeMemory + "://" + l.addr
}

func (l *MemoryListener) newChannelLocked() *memoryChannel {
	ch := &memoryChannel{
		id:       uuid.New().String(),
		listener: l,
		items:    make(chan *memoryItem, l.receiveBuffer),
		eof:      make(chan struct{}),
		aborted:  make(chan struct{}),
	}
	l.channels[ch] = struct{}{}
	return ch
}

func (l *MemoryListener) forget(ch *memoryChannel) {
	l.mu.Lock()
	delete(l.channels, ch)
	l.mu.Unlock()
}

func (l *MemoryListener) dial(ctx context.Context) (*MemoryClient, error) {
	l.mu.Lock()
	if !l.opened || l.closed {
		l.mu.Unlock()
		return nil, rmerrors.ConnectionLost(SchemeMemory, l.addr, errors.New("listener not open"))
	}
	if l.shape == ShapeDatagram {
		ch := l.shared
		l.mu.Unlock()
		return &MemoryClient{channel: ch}, nil
	}
	ch := l.newChannelLocked()
	l.mu.Unlock()

	select {
	case l.backlog <- ch:
		return &MemoryClient{channel: ch}, nil
	case <-l.done:
		l.forget(ch)
		return nil, rmerrors.ConnectionLost(SchemeMemory, l.addr, errors.New("listener closed"))
	case <-ctx.Done():
		l.forget(ch)
		return nil, contextError("dial", ctx.Err())
	}
}

type memoryChannel struct {
	id       string
	listener *MemoryListener
	items    chan *memoryItem

	eof       chan struct{}
	eofOnce   sync.Once
	aborted   chan struct{}
	abortOnce sync.Once
}

func (c *memoryChannel) ID() string {
	return c.id
}

func (c *memoryChannel) Receive(ctx context.Context) (Item, error) {
	select {
	case item := <-c.items:
		return item, nil
	default:
	}

	select {
	case item := <-c.items:
		return item, nil
	case <-c.eof:
		return nil, nil
	case <-c.aborted:
		return nil, rmerrors.ChannelAborted(SchemeMemory, c.id)
	case <-ctx.Done():
		return nil, contextError("receive", ctx.Err())
	}
}

func (c *memoryChannel) Abort() {
	c.abortOnce.Do(func() {
		close(c.aborted)
		c.listener.forget(c)
	})
}

func (c *memoryChannel) Close(ctx context.Context) error {
	c.endOfStream()
	c.listener.forget(c)
	return nil
}

func (c *memoryChannel) endOfStream() {
	c.eofOnce.Do(func() {
		close(c.eof)
	})
}

// send round-trips msg through the envelope codec and queues it
func (c *memoryChannel) send(ctx context.Context, msg *protocol.Message) (*memoryItem, error) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return nil, err
	}
	decoded, err := protocol.Unmarshal(data)
	if err != nil {
		return nil, rmerrors.MalformedMessage("Envelope", err)
	}

	item := &memoryItem{
		msg:     decoded,
		replies: make(chan *protocol.Message, 1),
		closed:  make(chan struct{}),
	}
	select {
	case c.items <- item:
		return item, nil
	case <-c.eof:
		return nil, rmerrors.ConnectionLost(SchemeMemory, c.id, errors.New("channel closed"))
	case <-c.aborted:
		return nil, rmerrors.ChannelAborted(SchemeMemory, c.id)
	case <-ctx.Done():
		return nil, contextError("send", ctx.Err())
	}
}

type memoryItem struct {
	msg     *protocol.Message
	mu      sync.Mutex
	replied bool
	replies chan *protocol.Message

	closed    chan struct{}
	closeOnce sync.Once
}

func (i *memoryItem) Message() *protocol.Message {
	return i.msg
}

func (i *memoryItem) Reply(ctx context.Context, msg *protocol.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.replied {
		return rmerrors.CommunicationError(SchemeMemory, "reply", errAlreadyReplied)
	}
	select {
	case <-i.closed:
		return rmerrors.CommunicationError(SchemeMemory, "reply", errItemClosed)
	default:
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		return rmerrors.InternalError("reply", err)
	}
	decoded, err := protocol.Unmarshal(data)
	if err != nil {
		return rmerrors.InternalError("reply", err)
	}
	i.replied = true
	i.replies <- decoded
	return nil
}

func (i *memoryItem) Close() {
	i.closeOnce.Do(func() {
		close(i.closed)
	})
}

// MemoryClient is the peer side of a memory channel
type MemoryClient struct {
	channel *memoryChannel
}

// Request sends msg and waits for its reply. It returns a nil message when
// the listener closed the item without replying.
func (c *MemoryClient) Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	item, err := c.channel.send(ctx, msg)
	if err != nil {
		return nil, err
	}
	select {
	case reply := <-item.replies:
		return reply, nil
	case <-item.closed:
		select {
		case reply := <-item.replies:
			return reply, nil
		default:
			return nil, nil
		}
	case <-c.channel.aborted:
		return nil, rmerrors.ChannelAborted(SchemeMemory, c.channel.id)
	case <-ctx.Done():
		return nil, contextError("request", ctx.Err())
	}
}

// Send queues msg without waiting for a reply
func (c *MemoryClient) Send(ctx context.Context, msg *protocol.Message) error {
	_, err := c.channel.send(ctx, msg)
	return err
}

// Close ends the client's stream. On a session listener the accepted
// channel then reaches end of stream.
func (c *MemoryClient) Close() {
	if c.channel.listener.shape == ShapeSession {
		c.channel.endOfStream()
	}
}

// Aborted is closed when the listener aborts the client's channel
func (c *MemoryClient) Aborted() <-chan struct{} {
	return c.channel.aborted
}
