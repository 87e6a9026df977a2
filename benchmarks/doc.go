// Package benchmarks measures the reliable session listener over the memory
// transport: admission, routing and session churn under backpressure.
package benchmarks
