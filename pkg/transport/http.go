package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/google/uuid"
)

// SchemeHTTP selects the SOAP-over-HTTP transport
const SchemeHTTP = "http"

// Content types of SOAP envelopes
const (
	ContentTypeSOAP12 = "application/soap+xml; charset=utf-8"
	ContentTypeSOAP11 = "text/xml; charset=utf-8"
)

// HTTPListener is a datagram inner listener. Every POST carries one
// envelope and is answered by the reply to its item, or with
// 202 Accepted when the item is closed without one.
type HTTPListener struct {
	addr   string
	path   string
	config ConnectionConfig
	logger logging.Logger

	mu       sync.Mutex
	opened   bool
	accepted bool
	server   *http.Server
	netLn    net.Listener
	channel  *httpChannel
	handler  http.Handler

	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPListener creates a listener serving path on addr. An empty addr
// serves nothing by itself; mount Handler on an existing server instead.
func NewHTTPListener(addr, path string, config ConnectionConfig, logger logging.Logger) *HTTPListener {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if path == "" {
		path = "/"
	}
	l := &HTTPListener{
		addr:   addr,
		path:   path,
		config: config,
		logger: logger.WithFields(logging.Component("http_listener")),
		done:   make(chan struct{}),
	}
	l.channel = &httpChannel{
		id:      uuid.New().String(),
		items:   make(chan *httpItem, config.ReceiveBuffer),
		closed:  make(chan struct{}),
		aborted: make(chan struct{}),
	}
	l.handler = logging.HTTPMiddleware(l.logger)(http.HandlerFunc(l.serveEnvelope))
	return l
}

// NewHTTPListenerFactory builds HTTP listeners for URIs such as
// http://0.0.0.0:8080/rm
func NewHTTPListenerFactory(logger logging.Logger) ListenerFactory {
	return func(ctx context.Context, uri *url.URL, config Config) (Listener, error) {
		return NewHTTPListener(uri.Host, uri.Path, config.Connection, logger), nil
	}
}

// Handler returns the HTTP handler receiving envelopes
func (l *HTTPListener) Handler() http.Handler {
	return l.handler
}

// Open binds the address and starts serving
func (l *HTTPListener) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		return rmerrors.ListenerClosed(SchemeHTTP)
	default:
	}
	if l.opened {
		return rmerrors.InvalidState("open", "open")
	}

	if l.addr != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", l.addr)
		if err != nil {
			return rmerrors.TransportError(SchemeHTTP, "open", err)
		}
		l.netLn = ln

		mux := http.NewServeMux()
		mux.Handle(l.path, l.handler)
		l.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: l.config.ReadHeaderTimeout,
			ErrorLog:          logging.NewStdLogger(l.logger, "http_server", logging.WarnLevel),
		}
		go func() {
			err := l.server.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.logger.WithError(err).Error("HTTP server stopped")
			}
		}()
	}
	l.opened = true
	return nil
}

// Close stops serving gracefully. Requests in flight are answered before
// Close returns or ctx expires.
func (l *HTTPListener) Close(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	default:
	}
	l.shutdown()
	l.channel.endOfStream()
	if l.server == nil {
		return nil
	}
	if err := l.server.Shutdown(ctx); err != nil {
		return rmerrors.TransportError(SchemeHTTP, "close", err)
	}
	return nil
}

// Abort stops serving immediately and fails requests in flight
func (l *HTTPListener) Abort() {
	l.shutdown()
	l.channel.Abort()
	if l.server != nil {
		_ = l.server.Close()
	}
}

func (l *HTTPListener) shutdown() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// Accept returns the shared request channel once, then blocks until the
// listener closes
func (l *HTTPListener) Accept(ctx context.Context) (Channel, error) {
	l.mu.Lock()
	if !l.opened {
		l.mu.Unlock()
		return nil, rmerrors.InvalidState("accept", "created")
	}
	if !l.accepted {
		l.accepted = true
		l.mu.Unlock()
		return l.channel, nil
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil, nil
	case <-ctx.Done():
		return nil, contextError("accept", ctx.Err())
	}
}

// Shape reports ShapeDatagram
func (l *HTTPListener) Shape() Shape {
	return ShapeDatagram
}

// Addr returns the URL peers post to
func (l *HTTPListener) Addr() string {
	host := l.addr
	if l.netLn != nil {
		host = l.netLn.Addr().String()
	}
	return (&url.URL{Scheme: SchemeHTTP, Host: host, Path: l.path}).String()
}

func (l *HTTPListener) serveEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	body := io.Reader(r.Body)
	if l.config.MaxMessageSize > 0 {
		body = http.MaxBytesReader(w, r.Body, l.config.MaxMessageSize)
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		l.logger.WithContext(r.Context()).WithError(err).Debug("Rejected malformed envelope")
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	item := &httpItem{
		msg:       msg,
		requestID: logging.RequestIDFromContext(r.Context()),
		replies:   make(chan []byte, 1),
		closed:    make(chan struct{}),
	}

	select {
	case l.channel.items <- item:
	case <-l.channel.aborted:
		http.Error(w, "listener aborted", http.StatusServiceUnavailable)
		return
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	var timeout <-chan time.Time
	if l.config.ReplyTimeout > 0 {
		timer := time.NewTimer(l.config.ReplyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case reply := <-item.replies:
		item.write(w, reply)
	case <-item.closed:
		select {
		case reply := <-item.replies:
			item.write(w, reply)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	case <-l.channel.aborted:
		http.Error(w, "listener aborted", http.StatusServiceUnavailable)
	case <-timeout:
		item.Close()
		http.Error(w, "no reply", http.StatusGatewayTimeout)
	case <-r.Context().Done():
		item.Close()
	}
}

type httpChannel struct {
	id    string
	items chan *httpItem

	closed    chan struct{}
	closeOnce sync.Once
	aborted   chan struct{}
	abortOnce sync.Once
}

func (c *httpChannel) ID() string {
	return c.id
}

func (c *httpChannel) Receive(ctx context.Context) (Item, error) {
	select {
	case item := <-c.items:
		return item, nil
	case <-c.closed:
		return nil, nil
	case <-c.aborted:
		return nil, rmerrors.ChannelAborted(SchemeHTTP, c.id)
	case <-ctx.Done():
		return nil, contextError("receive", ctx.Err())
	}
}

func (c *httpChannel) Abort() {
	c.abortOnce.Do(func() {
		close(c.aborted)
	})
}

func (c *httpChannel) Close(ctx context.Context) error {
	c.endOfStream()
	return nil
}

func (c *httpChannel) endOfStream() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

type httpItem struct {
	msg         *protocol.Message
	requestID   string
	contentType string

	mu        sync.Mutex
	replied   bool
	replies   chan []byte
	fault     bool
	closed    chan struct{}
	closeOnce sync.Once
}

func (i *httpItem) Message() *protocol.Message {
	return i.msg
}

func (i *httpItem) Reply(ctx context.Context, msg *protocol.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.replied {
		return rmerrors.CommunicationError(SchemeHTTP, "reply", errAlreadyReplied)
	}
	select {
	case <-i.closed:
		return rmerrors.CommunicationError(SchemeHTTP, "reply", errItemClosed)
	default:
	}

	data, err := protocol.Marshal(msg)
	if err != nil {
		return rmerrors.InternalError("reply", fmt.Errorf("request %s: %w", i.requestID, err))
	}
	i.replied = true
	i.fault = msg.IsFault()
	i.contentType = ContentTypeSOAP12
	if msg.EnvelopeNamespace() == protocol.NamespaceSOAP11 {
		i.contentType = ContentTypeSOAP11
	}
	i.replies <- data
	return nil
}

func (i *httpItem) Close() {
	i.closeOnce.Do(func() {
		close(i.closed)
	})
}

func (i *httpItem) write(w http.ResponseWriter, data []byte) {
	i.mu.Lock()
	fault := i.fault
	contentType := i.contentType
	i.mu.Unlock()

	w.Header().Set("Content-Type", contentType)
	if fault {
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.Write(data)
}
