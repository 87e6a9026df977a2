package wsrm

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/ajitpratap0/wsrm-go/pkg/config"
	"github.com/ajitpratap0/wsrm-go/pkg/listener"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// Endpoint is a reliable session listener assembled from a Config together
// with the registry, metrics and tracing it runs with
type Endpoint struct {
	Config   config.Config
	Logger   logging.Logger
	Registry *transport.Registry
	Listener *listener.Listener
	Metrics  *observability.PrometheusMetrics
	Tracing  *observability.TracingProvider

	serveMetrics bool
}

// EndpointOption configures NewEndpoint
type EndpointOption func(*endpointOptions)

type endpointOptions struct {
	logger   logging.Logger
	network  *transport.MemoryNetwork
	registry *prometheus.Registry
	extra    []listener.Option
}

// WithEndpointLogger replaces the logger built from the logging section
func WithEndpointLogger(logger logging.Logger) EndpointOption {
	return func(o *endpointOptions) {
		o.logger = logger
	}
}

// WithMemoryNetwork makes memory:// URIs resolve on network
func WithMemoryNetwork(network *transport.MemoryNetwork) EndpointOption {
	return func(o *endpointOptions) {
		o.network = network
	}
}

// WithPrometheusRegistry registers the metrics on registry instead of the
// default registerer. The metrics HTTP server is not started.
func WithPrometheusRegistry(registry *prometheus.Registry) EndpointOption {
	return func(o *endpointOptions) {
		o.registry = registry
	}
}

// WithListenerOptions passes extra options to the listener
func WithListenerOptions(opts ...listener.Option) EndpointOption {
	return func(o *endpointOptions) {
		o.extra = append(o.extra, opts...)
	}
}

// NewEndpoint builds the endpoint cfg describes. factory builds the session
// of every admitted sequence.
func NewEndpoint(ctx context.Context, cfg config.Config, factory listener.SessionFactory, opts ...EndpointOption) (*Endpoint, error) {
	var o endpointOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Endpoint{Config: cfg, Logger: o.logger, serveMetrics: cfg.Metrics.MetricsAddr != ""}
	if e.Logger == nil {
		e.Logger = cfg.NewLogger()
	}

	metricsConfig := cfg.Metrics
	if o.registry != nil {
		metricsConfig.Registerer = o.registry
		metricsConfig.Gatherer = o.registry
		e.serveMetrics = false
	}
	metrics, err := observability.NewListenerMetrics(metricsConfig)
	if err != nil {
		return nil, err
	}
	e.Metrics = metrics

	tracing, err := observability.NewTracingProvider(cfg.Tracing)
	if err != nil {
		return nil, err
	}
	e.Tracing = tracing

	middleware := transport.NewMiddlewareBuilder(cfg.Transport, e.Logger, metrics).Build()
	middleware = append(middleware, observability.NewTracingMiddleware(tracing.Tracer()))
	e.Registry = transport.NewDefaultRegistry(
		transport.WithRegistryConfig(cfg.Transport),
		transport.WithRegistryLogger(e.Logger),
		transport.WithRegistryMiddleware(middleware...))
	if o.network != nil {
		e.Registry.Register(transport.SchemeMemory, o.network.Factory())
	}

	kind, err := listener.ParseChannelKind(cfg.Listener.Kind)
	if err != nil {
		return nil, multierr.Append(err, tracing.Shutdown(ctx))
	}
	listenerOpts := []listener.Option{
		listener.WithLogger(e.Logger),
		listener.WithMetrics(metrics),
		listener.WithTracer(tracing.Tracer()),
		listener.WithSettings(cfg.Transport.Session),
		listener.WithChannelKind(kind),
		listener.WithLocalAddresses(cfg.Listener.LocalAddresses...),
	}
	listenerOpts = append(listenerOpts, o.extra...)

	e.Listener, err = listener.Listen(ctx, e.Registry, cfg.Listener.URI, factory, listenerOpts...)
	if err != nil {
		return nil, multierr.Combine(err, e.Registry.Close(ctx), tracing.Shutdown(ctx))
	}
	return e, nil
}

// Open starts the metrics server, if configured, and opens the listener
func (e *Endpoint) Open(ctx context.Context) error {
	if e.serveMetrics && e.Config.Transport.Observability.EnableMetrics {
		if err := e.Metrics.Start(ctx); err != nil {
			return err
		}
		e.Logger.Info("Metrics server started",
			logging.String("addr", e.Config.Metrics.MetricsAddr),
			logging.String("path", e.Config.Metrics.MetricsPath))
	}
	if err := e.Listener.Open(ctx); err != nil {
		return multierr.Append(err, e.Metrics.Shutdown(ctx))
	}
	e.Logger.Info("Endpoint open", logging.String("addr", e.Listener.Addr()))
	return nil
}

// Accept waits for the next admitted session
func (e *Endpoint) Accept(ctx context.Context) (listener.Session, error) {
	return e.Listener.Accept(ctx)
}

// Close closes the listener and releases everything the endpoint started.
// The inner listener stays up while sessions are still live.
func (e *Endpoint) Close(ctx context.Context) error {
	err := e.Listener.Close(ctx)
	if e.Listener.Sessions() == 0 {
		err = multierr.Append(err, e.Registry.Close(ctx))
	}
	return multierr.Combine(err, e.Metrics.Shutdown(ctx), e.Tracing.Shutdown(ctx))
}
