package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission results recorded by ListenerMetrics.SessionAdmission
const (
	AdmissionAdmitted        = "admitted"
	AdmissionDuplicate       = "duplicate"
	AdmissionRefusedBusy     = "refused_busy"
	AdmissionRefusedNotFound = "refused_not_found"
	AdmissionRefusedOffer    = "refused_offer"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string `json:"serviceName" toml:"service_name"`
	ServiceVersion string `json:"serviceVersion" toml:"service_version"`
	Environment    string `json:"environment" toml:"environment"`

	// Prometheus configuration
	MetricsPath string `json:"metricsPath" toml:"metrics_path"` // HTTP path for metrics endpoint (default: /metrics)
	MetricsAddr string `json:"metricsAddr" toml:"metrics_addr"` // Address for the metrics server (default: :9090)

	// Metric options
	Namespace        string    `json:"namespace" toml:"namespace"` // Prometheus namespace (default: wsrm)
	Subsystem        string    `json:"subsystem" toml:"subsystem"` // Prometheus subsystem (default: listener)
	HistogramBuckets []float64 `json:"histogramBuckets" toml:"histogram_buckets"`

	// Labels to add to all metrics
	ConstLabels prometheus.Labels `json:"constLabels" toml:"const_labels"`

	// Registerer and Gatherer default to the Prometheus default registry.
	// Tests pass a prometheus.NewRegistry() for both.
	Registerer prometheus.Registerer `json:"-" toml:"-"`
	Gatherer   prometheus.Gatherer   `json:"-" toml:"-"`
}

// ListenerMetrics records what a reliable session listener does. It also
// satisfies transport.ChannelMetrics so the inner transport middleware can
// share it.
type ListenerMetrics interface {
	// Inner transport events
	ChannelAccepted(shape string)
	ItemReceived(shape string)
	ReplySent(shape string, duration time.Duration, err error)

	// Session events
	SessionAdmission(result string)
	MessageDecoded(operation string)
	FaultSent(code string)
	PumpError(class string)
	SetSessions(live, pending int)
	InnerClosed(duration time.Duration, err error)

	// Management
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PrometheusMetrics implements ListenerMetrics using Prometheus
type PrometheusMetrics struct {
	config MetricsConfig
	mu     sync.Mutex
	server *http.Server

	channelsAccepted *prometheus.CounterVec
	itemsReceived    *prometheus.CounterVec
	replyDuration    *prometheus.HistogramVec

	admissions      *prometheus.CounterVec
	messagesDecoded *prometheus.CounterVec
	faultsSent      *prometheus.CounterVec
	pumpErrors      *prometheus.CounterVec
	liveSessions    prometheus.Gauge
	pendingSessions prometheus.Gauge
	innerClose      *prometheus.HistogramVec
}

// NewListenerMetrics creates a Prometheus metrics provider and registers its
// collectors
func NewListenerMetrics(config MetricsConfig) (*PrometheusMetrics, error) {
	// Set defaults
	if config.Namespace == "" {
		config.Namespace = "wsrm"
	}
	if config.Subsystem == "" {
		config.Subsystem = "listener"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsAddr == "" {
		config.MetricsAddr = ":9090"
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		labels["environment"] = config.Environment
	}
	config.ConstLabels = labels

	p := &PrometheusMetrics{config: config}
	p.initializeMetrics()

	if err := p.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return p, nil
}

func (p *PrometheusMetrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: p.config.ConstLabels,
	}, labels)
}

func (p *PrometheusMetrics) gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: p.config.ConstLabels,
	})
}

func (p *PrometheusMetrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        help,
		Buckets:     p.config.HistogramBuckets,
		ConstLabels: p.config.ConstLabels,
	}, labels)
}

// initializeMetrics creates all metric collectors
func (p *PrometheusMetrics) initializeMetrics() {
	p.channelsAccepted = p.counter("channels_accepted_total", "Inner channels accepted", "shape")
	p.itemsReceived = p.counter("items_received_total", "Inner transport items received", "shape")
	p.replyDuration = p.histogram("reply_duration_milliseconds", "Duration of replies sent on inner channels in milliseconds", "shape", "status")

	p.admissions = p.counter("admissions_total", "CreateSequence admission decisions", "result")
	p.messagesDecoded = p.counter("messages_decoded_total", "Decoded reliable messaging messages", "operation")
	p.faultsSent = p.counter("faults_sent_total", "Faults sent to peers", "code")
	p.pumpErrors = p.counter("pump_errors_total", "Errors raised while pumping inner channels", "class")
	p.liveSessions = p.gauge("sessions_live", "Sessions in the session table")
	p.pendingSessions = p.gauge("sessions_pending", "Sessions admitted but not yet accepted")
	p.innerClose = p.histogram("inner_close_duration_milliseconds", "Duration of inner listener close in milliseconds", "status")
}

// registerMetrics registers all metrics with the configured registerer
func (p *PrometheusMetrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		p.channelsAccepted,
		p.itemsReceived,
		p.replyDuration,
		p.admissions,
		p.messagesDecoded,
		p.faultsSent,
		p.pumpErrors,
		p.liveSessions,
		p.pendingSessions,
		p.innerClose,
	}

	for _, collector := range collectors {
		if err := p.config.Registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ChannelAccepted counts an accepted inner channel
func (p *PrometheusMetrics) ChannelAccepted(shape string) {
	p.channelsAccepted.WithLabelValues(shape).Inc()
}

// ItemReceived counts a received inner item
func (p *PrometheusMetrics) ItemReceived(shape string) {
	p.itemsReceived.WithLabelValues(shape).Inc()
}

// ReplySent records a reply on an inner channel
func (p *PrometheusMetrics) ReplySent(shape string, duration time.Duration, err error) {
	p.replyDuration.WithLabelValues(shape, status(err)).Observe(float64(duration.Milliseconds()))
}

// SessionAdmission counts a CreateSequence admission decision
func (p *PrometheusMetrics) SessionAdmission(result string) {
	p.admissions.WithLabelValues(result).Inc()
}

// MessageDecoded counts a decoded message by operation
func (p *PrometheusMetrics) MessageDecoded(operation string) {
	p.messagesDecoded.WithLabelValues(operation).Inc()
}

// FaultSent counts a fault sent to a peer
func (p *PrometheusMetrics) FaultSent(code string) {
	p.faultsSent.WithLabelValues(code).Inc()
}

// PumpError counts a pump error by class
func (p *PrometheusMetrics) PumpError(class string) {
	p.pumpErrors.WithLabelValues(class).Inc()
}

// SetSessions updates the session gauges
func (p *PrometheusMetrics) SetSessions(live, pending int) {
	p.liveSessions.Set(float64(live))
	p.pendingSessions.Set(float64(pending))
}

// InnerClosed records how long closing the inner listener took
func (p *PrometheusMetrics) InnerClosed(duration time.Duration, err error) {
	p.innerClose.WithLabelValues(status(err)).Observe(float64(duration.Milliseconds()))
}

// Handler serves the configured gatherer in the Prometheus text format
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.config.Gatherer, promhttp.HandlerOpts{})
}

// Start starts the metrics HTTP server
func (p *PrometheusMetrics) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler())
	p.server = &http.Server{
		Addr:              p.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := p.server
	go func() {
		_ = server.ListenAndServe()
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetrics) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.server = nil
	p.mu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// NoopMetrics discards every measurement
type NoopMetrics struct{}

func (NoopMetrics) ChannelAccepted(string)                 {}
func (NoopMetrics) ItemReceived(string)                    {}
func (NoopMetrics) ReplySent(string, time.Duration, error) {}
func (NoopMetrics) SessionAdmission(string)                {}
func (NoopMetrics) MessageDecoded(string)                  {}
func (NoopMetrics) FaultSent(string)                       {}
func (NoopMetrics) PumpError(string)                       {}
func (NoopMetrics) SetSessions(int, int)                   {}
func (NoopMetrics) InnerClosed(time.Duration, error)       {}
func (NoopMetrics) Start(context.Context) error            { return nil }
func (NoopMetrics) Shutdown(context.Context) error         { return nil }
