// Package observability provides metrics and tracing for reliable session
// listeners.
//
// PrometheusMetrics implements ListenerMetrics and counts admissions,
// decoded messages, faults, pump errors and inner transport traffic. Pass a
// private prometheus.Registry through MetricsConfig to keep instances apart.
// NoopMetrics is the default when no metrics are configured.
//
// TracingProvider builds an OpenTelemetry tracer exporting over OTLP gRPC or
// HTTP. TracingMiddleware spans every item an inner listener receives.
package observability
