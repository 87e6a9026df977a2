package transport

import (
	"context"

	"github.com/ajitpratap0/wsrm-go/pkg/logging"
)

// Middleware represents a listener middleware that can wrap an inner
// listener to add functionality like accept retries or observability
type Middleware interface {
	// Wrap wraps the given listener with middleware functionality
	Wrap(listener Listener) Listener
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Listener) Listener

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(l Listener) Listener {
	return f(l)
}

// ChainMiddleware chains multiple middleware together
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(listener Listener) Listener {
		// Apply middleware in reverse order so the first middleware is the outermost
		for i := len(middleware) - 1; i >= 0; i-- {
			listener = middleware[i].Wrap(listener)
		}
		return listener
	})
}

// middlewareListener is a base type for middleware implementations
type middlewareListener struct {
	next Listener
}

func (m *middlewareListener) Open(ctx context.Context) error {
	return m.next.Open(ctx)
}

func (m *middlewareListener) Close(ctx context.Context) error {
	return m.next.Close(ctx)
}

func (m *middlewareListener) Abort() {
	m.next.Abort()
}

func (m *middlewareListener) Accept(ctx context.Context) (Channel, error) {
	return m.next.Accept(ctx)
}

func (m *middlewareListener) Shape() Shape {
	return m.next.Shape()
}

func (m *middlewareListener) Addr() string {
	return m.next.Addr()
}

// MiddlewareBuilder builds middleware from configuration
type MiddlewareBuilder struct {
	config  Config
	logger  logging.Logger
	metrics ChannelMetrics
}

// NewMiddlewareBuilder creates a new middleware builder. metrics may be nil.
func NewMiddlewareBuilder(config Config, logger logging.Logger, metrics ChannelMetrics) *MiddlewareBuilder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MiddlewareBuilder{config: config, logger: logger, metrics: metrics}
}

// Build constructs the middleware chain based on configuration
func (mb *MiddlewareBuilder) Build() []Middleware {
	var middleware []Middleware

	// Order matters - the first middleware is the outermost
	if mb.config.Features.EnableReliability && mb.config.Reliability.MaxRetries > 0 {
		middleware = append(middleware, NewReliabilityMiddleware(mb.config.Reliability, mb.logger))
	}

	if mb.config.Features.EnableObservability {
		var metrics ChannelMetrics
		if mb.config.Observability.EnableMetrics {
			metrics = mb.metrics
		}
		var logger logging.Logger = logging.NewNopLogger()
		if mb.config.Observability.EnableLogging {
			logger = mb.logger
		}
		middleware = append(middleware, NewObservabilityMiddleware(logger, metrics))
	}

	return middleware
}
