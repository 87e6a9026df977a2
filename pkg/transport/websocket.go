package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// SchemeWebSocket selects the SOAP-over-WebSocket transport
const SchemeWebSocket = "ws"

// WebSocketListener is a session inner listener: every upgraded connection
// is one channel and every text or binary frame one envelope. Replies are
// written back on the same connection.
type WebSocketListener struct {
	addr   string
	path   string
	config ConnectionConfig
	logger logging.Logger

	mu       sync.Mutex
	opened   bool
	server   *http.Server
	netLn    net.Listener
	channels map[*wsChannel]struct{}

	handler   http.Handler
	backlog   chan *wsChannel
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketListener creates a listener upgrading requests for path on
// addr. With an empty addr, mount Handler on an existing server.
func NewWebSocketListener(addr, path string, config ConnectionConfig, logger logging.Logger) *WebSocketListener {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if path == "" {
		path = "/"
	}
	backlog := config.AcceptBacklog
	if backlog <= 0 {
		backlog = 1
	}
	l := &WebSocketListener{
		addr:     addr,
		path:     path,
		config:   config,
		logger:   logger.WithFields(logging.Component("websocket_listener")),
		channels: make(map[*wsChannel]struct{}),
		backlog:  make(chan *wsChannel, backlog),
		done:     make(chan struct{}),
	}
	l.handler = logging.HTTPMiddleware(l.logger)(http.HandlerFunc(l.serveUpgrade))
	return l
}

// NewWebSocketListenerFactory builds WebSocket listeners for URIs such as
// ws://0.0.0.0:8080/rm
func NewWebSocketListenerFactory(logger logging.Logger) ListenerFactory {
	return func(ctx context.Context, uri *url.URL, config Config) (Listener, error) {
		return NewWebSocketListener(uri.Host, uri.Path, config.Connection, logger), nil
	}
}

// Handler returns the HTTP handler performing the upgrade
func (l *WebSocketListener) Handler() http.Handler {
	return l.handler
}

// Open binds the address and starts serving
func (l *WebSocketListener) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		return rmerrors.ListenerClosed(SchemeWebSocket)
	default:
	}
	if l.opened {
		return rmerrors.InvalidState("open", "open")
	}

	if l.addr != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", l.addr)
		if err != nil {
			return rmerrors.TransportError(SchemeWebSocket, "open", err)
		}
		l.netLn = ln

		mux := http.NewServeMux()
		mux.Handle(l.path, l.handler)
		l.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: l.config.ReadHeaderTimeout,
			ErrorLog:          logging.NewStdLogger(l.logger, "websocket_server", logging.WarnLevel),
		}
		go func() {
			if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.logger.WithError(err).Error("WebSocket server stopped")
			}
		}()
	}
	l.opened = true
	return nil
}

// Close stops accepting connections. Accepted channels stay open;
// connections still waiting in the backlog are dropped.
func (l *WebSocketListener) Close(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	default:
	}
	l.shutdown()
	l.dropUnaccepted()
	if l.server == nil {
		return nil
	}
	// hijacked connections are not waited for
	if err := l.server.Shutdown(ctx); err != nil {
		return rmerrors.TransportError(SchemeWebSocket, "close", err)
	}
	return nil
}

// Abort stops accepting and drops every connection
func (l *WebSocketListener) Abort() {
	l.shutdown()
	l.mu.Lock()
	channels := make([]*wsChannel, 0, len(l.channels))
	for ch := range l.channels {
		channels = append(channels, ch)
	}
	l.mu.Unlock()
	for _, ch := range channels {
		ch.Abort()
	}
	if l.server != nil {
		_ = l.server.Close()
	}
}

func (l *WebSocketListener) dropUnaccepted() {
	l.mu.Lock()
	var pending []*wsChannel
	for ch := range l.channels {
		if !ch.accepted {
			pending = append(pending, ch)
		}
	}
	l.mu.Unlock()
	for _, ch := range pending {
		ch.Abort()
	}
}

func (l *WebSocketListener) shutdown() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// Accept waits for the next upgraded connection
func (l *WebSocketListener) Accept(ctx context.Context) (Channel, error) {
	l.mu.Lock()
	opened := l.opened
	l.mu.Unlock()
	if !opened {
		return nil, rmerrors.InvalidState("accept", "created")
	}

	select {
	case ch := <-l.backlog:
		select {
		case <-l.done:
			ch.Abort()
			return nil, nil
		default:
		}
		l.mu.Lock()
		ch.accepted = true
		l.mu.Unlock()
		return ch, nil
	case <-l.done:
		return nil, nil
	case <-ctx.Done():
		return nil, contextError("accept", ctx.Err())
	}
}

// Shape reports ShapeSession
func (l *WebSocketListener) Shape() Shape {
	return ShapeSession
}

// Addr returns the URL peers dial
func (l *WebSocketListener) Addr() string {
	host := l.addr
	if l.netLn != nil {
		host = l.netLn.Addr().String()
	}
	return (&url.URL{Scheme: SchemeWebSocket, Host: host, Path: l.path}).String()
}

func (l *WebSocketListener) forget(ch *wsChannel) {
	l.mu.Lock()
	delete(l.channels, ch)
	l.mu.Unlock()
}

func (l *WebSocketListener) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"soap"},
		OriginPatterns: l.config.AllowedOrigins,
	})
	if err != nil {
		l.logger.WithContext(r.Context()).WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	if l.config.MaxMessageSize > 0 {
		conn.SetReadLimit(l.config.MaxMessageSize)
	}

	ch := &wsChannel{
		id:       uuid.New().String(),
		conn:     conn,
		listener: l,
		logger:   l.logger.WithContext(r.Context()),
		items:    make(chan *wsItem, l.config.ReceiveBuffer),
		eof:      make(chan struct{}),
		aborted:  make(chan struct{}),
	}
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "listener closed")
		return
	default:
	}
	l.channels[ch] = struct{}{}
	l.mu.Unlock()

	select {
	case l.backlog <- ch:
	case <-l.done:
		l.forget(ch)
		_ = conn.Close(websocket.StatusGoingAway, "listener closed")
		return
	case <-r.Context().Done():
		l.forget(ch)
		_ = conn.CloseNow()
		return
	}

	ch.readLoop()
}

type wsChannel struct {
	id       string
	conn     *websocket.Conn
	listener *WebSocketListener
	logger   logging.Logger
	items    chan *wsItem
	// accepted is guarded by listener.mu
	accepted bool

	mu        sync.Mutex
	readErr   error
	eof       chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once
}

func (c *wsChannel) readLoop() {
	defer close(c.eof)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.aborted:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.mu.Lock()
				c.readErr = rmerrors.ConnectionLost(SchemeWebSocket, c.id, err)
				c.mu.Unlock()
			}
			return
		}

		msg, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.WithError(err).Debug("Dropped malformed envelope", logging.ChannelID(c.id))
			continue
		}

		select {
		case c.items <- &wsItem{msg: msg, channel: c}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsChannel) ID() string {
	return c.id
}

func (c *wsChannel) Receive(ctx context.Context) (Item, error) {
	select {
	case item := <-c.items:
		return item, nil
	default:
	}

	select {
	case item := <-c.items:
		return item, nil
	case <-c.eof:
		select {
		case item := <-c.items:
			return item, nil
		case <-c.aborted:
			return nil, rmerrors.ChannelAborted(SchemeWebSocket, c.id)
		default:
		}
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return nil, err
	case <-c.aborted:
		return nil, rmerrors.ChannelAborted(SchemeWebSocket, c.id)
	case <-ctx.Done():
		return nil, contextError("receive", ctx.Err())
	}
}

func (c *wsChannel) Abort() {
	c.abortOnce.Do(func() {
		close(c.aborted)
		_ = c.conn.CloseNow()
		c.listener.forget(c)
	})
}

func (c *wsChannel) Close(ctx context.Context) error {
	defer c.listener.forget(c)
	if err := c.conn.Close(websocket.StatusNormalClosure, "closed"); err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}
		return rmerrors.CommunicationError(SchemeWebSocket, "close", err)
	}
	return nil
}

func (c *wsChannel) write(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return rmerrors.InternalError("write", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if ctx.Err() != nil {
			return contextError("write", ctx.Err())
		}
		return rmerrors.CommunicationError(SchemeWebSocket, "write", err)
	}
	return nil
}

type wsItem struct {
	msg     *protocol.Message
	channel *wsChannel

	mu      sync.Mutex
	replied bool
}

func (i *wsItem) Message() *protocol.Message {
	return i.msg
}

func (i *wsItem) Reply(ctx context.Context, msg *protocol.Message) error {
	i.mu.Lock()
	if i.replied {
		i.mu.Unlock()
		return rmerrors.CommunicationError(SchemeWebSocket, "reply", errAlreadyReplied)
	}
	i.replied = true
	i.mu.Unlock()
	return i.channel.write(ctx, msg)
}

// Close is a no-op: a session channel needs no empty acknowledgement
func (i *wsItem) Close() {}

// WebSocketClient is a minimal peer for a WebSocketListener
type WebSocketClient struct {
	conn *websocket.Conn
}

// DialWebSocket connects to a WebSocketListener at rawURL
func DialWebSocket(ctx context.Context, rawURL string) (*WebSocketClient, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{Subprotocols: []string{"soap"}})
	if err != nil {
		return nil, rmerrors.ConnectionLost(SchemeWebSocket, rawURL, err)
	}
	return &WebSocketClient{conn: conn}, nil
}

// Send writes one envelope
func (c *WebSocketClient) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return rmerrors.CommunicationError(SchemeWebSocket, "write", err)
	}
	return nil
}

// Receive reads one envelope
func (c *WebSocketClient) Receive(ctx context.Context) (*protocol.Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, rmerrors.CommunicationError(SchemeWebSocket, "read", err)
	}
	return protocol.Unmarshal(data)
}

// Close closes the connection normally
func (c *WebSocketClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "done")
}
