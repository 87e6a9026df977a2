package listener

import (
	"encoding/xml"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/wsrm-go/pkg/decoder"
	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// Option configures a Listener
type Option func(*Listener)

// WithLogger sets the listener logger
func WithLogger(logger logging.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithMetrics records listener activity in metrics
func WithMetrics(metrics observability.ListenerMetrics) Option {
	return func(l *Listener) {
		l.metrics = metrics
	}
}

// WithTracer spans decoding and admission with tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Listener) {
		l.tracer = tracer
	}
}

// WithClock replaces the clock deriving every timeout
func WithClock(c clock.Clock) Option {
	return func(l *Listener) {
		l.clock = c
	}
}

// WithSettings sets the reliable session settings
func WithSettings(settings transport.ReliableSessionConfig) Option {
	return func(l *Listener) {
		l.settings = settings
	}
}

// WithStrategy overrides the pump strategy chosen from the inner listener
// shape
func WithStrategy(strategy Strategy) Option {
	return func(l *Listener) {
		l.strategy = &strategy
	}
}

// WithChannelKind sets the kind of session the listener hands out
func WithChannelKind(kind ChannelKind) Option {
	return func(l *Listener) {
		l.kind = kind
	}
}

// WithLocalAddresses restricts the CreateSequence To addresses the
// listener answers for
func WithLocalAddresses(addresses ...string) Option {
	return func(l *Listener) {
		l.localAddresses = append(l.localAddresses, addresses...)
	}
}

// WithUnderstoodHeaders declares headers outside the WS-RM namespace that
// sessions process, so they do not trigger MustUnderstand faults
func WithUnderstoodHeaders(names ...xml.Name) Option {
	return func(l *Listener) {
		l.sessionContext.Understood = append(l.sessionContext.Understood, names...)
	}
}

// WithFaultConverter classifies received faults that are not WS-RM faults
func WithFaultConverter(converter decoder.FaultConverter) Option {
	return func(l *Listener) {
		l.sessionContext.Converter = converter
	}
}
