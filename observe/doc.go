// Package observe provides observability primitives for caches and batch
// schedulers.
//
// It is a pure instrumentation library: a zap-backed structured Logger,
// OpenTelemetry Metrics and Tracer wrappers, and an Observer that wires
// exporters from configuration. Components receive an *Instrumentation and
// never talk to exporters directly.
package observe
