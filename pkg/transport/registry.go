package transport

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	rmerrors "github.com/ajitpratap0/wsrm-go/pkg/errors"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"go.uber.org/multierr"
)

// Registry maps URI schemes to listener factories. A Registry is owned by
// whoever builds listeners with it; there is no package-level instance.
type Registry struct {
	mu         sync.Mutex
	factories  map[string]ListenerFactory
	listeners  []Listener
	config     Config
	middleware []Middleware
	logger     logging.Logger
	closed     bool
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryConfig sets the configuration handed to every factory
func WithRegistryConfig(config Config) RegistryOption {
	return func(r *Registry) {
		r.config = config
	}
}

// WithRegistryMiddleware wraps every listener the registry builds
func WithRegistryMiddleware(middleware ...Middleware) RegistryOption {
	return func(r *Registry) {
		r.middleware = append(r.middleware, middleware...)
	}
}

// WithRegistryLogger sets the registry logger
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: make(map[string]ListenerFactory),
		config:    DefaultConfig(),
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(logging.Component("transport_registry"))
	return r
}

// NewDefaultRegistry creates a registry with the HTTP and WebSocket
// transports registered. In-process listeners are added with
// Register(SchemeMemory, network.Factory()).
func NewDefaultRegistry(opts ...RegistryOption) *Registry {
	r := NewRegistry(opts...)
	r.Register(SchemeHTTP, NewHTTPListenerFactory(r.logger))
	r.Register(SchemeWebSocket, NewWebSocketListenerFactory(r.logger))
	return r
}

// Register binds a scheme to a factory, replacing any earlier binding
func (r *Registry) Register(scheme string, factory ListenerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = factory
}

// Schemes lists the registered schemes in sorted order
func (r *Registry) Schemes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	schemes := make([]string, 0, len(r.factories))
	for s := range r.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Listen builds a listener for uri through the factory registered for its
// scheme. The registry remembers the listener and closes it in Close.
func (r *Registry) Listen(ctx context.Context, uri string) (Listener, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, rmerrors.InvalidFieldValue("uri", uri, err.Error())
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, rmerrors.ListenerClosed("registry")
	}
	factory, ok := r.factories[strings.ToLower(u.Scheme)]
	config := r.config
	middleware := r.middleware
	r.mu.Unlock()

	if !ok {
		return nil, rmerrors.InvalidFieldValue("uri", uri, fmt.Sprintf("no transport registered for scheme %q", u.Scheme))
	}

	l, err := factory(ctx, u, config)
	if err != nil {
		return nil, rmerrors.TransportError(u.Scheme, "listen", err)
	}
	l = ChainMiddleware(middleware...).Wrap(l)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		l.Abort()
		return nil, rmerrors.ListenerClosed("registry")
	}
	r.listeners = append(r.listeners, l)
	r.logger.Debug("Listener created", logging.String("uri", uri), logging.String("shape", l.Shape().String()))
	return l, nil
}

// Close closes every listener the registry created. Listeners that fail to
// close gracefully are aborted. All errors are returned together.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	listeners := r.listeners
	r.listeners = nil
	r.mu.Unlock()

	var errs error
	for _, l := range listeners {
		if err := l.Close(ctx); err != nil {
			r.logger.WithError(err).Warn("Listener close failed, aborting", logging.String("addr", l.Addr()))
			l.Abort()
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
