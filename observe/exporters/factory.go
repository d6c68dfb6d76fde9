// Package exporters builds the OpenTelemetry span exporters and metric
// readers selectable by name in observe.Config.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrUnknownExporter indicates an exporter name with no factory.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")

	// ErrEndpointNotConfigured indicates a required endpoint environment
	// variable is not set.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")
)

// Options tunes exporter construction. The zero value is usable.
type Options struct {
	// Writer receives stdout exporter output. Default: os.Stdout
	Writer io.Writer

	// Interval is the push interval of periodic metric readers.
	// Zero keeps the SDK default.
	Interval time.Duration

	// Registerer receives the Prometheus collector.
	// Default: the client_golang default registerer.
	Registerer promclient.Registerer
}

type (
	traceFactory  func(ctx context.Context, o Options) (sdktrace.SpanExporter, error)
	metricFactory func(ctx context.Context, o Options) (sdkmetric.Reader, error)
)

var traceFactories = map[string]traceFactory{
	"stdout": func(_ context.Context, o Options) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(o.writer()))
	},
	"otlp": func(ctx context.Context, _ Options) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger ingests OTLP natively.
	"jaeger": func(ctx context.Context, _ Options) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_JAEGER_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpointURL(os.Getenv("OTEL_EXPORTER_JAEGER_ENDPOINT")))
	},
}

var metricFactories = map[string]metricFactory{
	"stdout": func(_ context.Context, o Options) (sdkmetric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer()))
		if err != nil {
			return nil, fmt.Errorf("stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, o.readerOptions()...), nil
	},
	"otlp": func(ctx context.Context, o Options) (sdkmetric.Reader, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("otlp metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, o.readerOptions()...), nil
	},
	"prometheus": func(_ context.Context, o Options) (sdkmetric.Reader, error) {
		var opts []prometheus.Option
		if o.Registerer != nil {
			opts = append(opts, prometheus.WithRegisterer(o.Registerer))
		}
		exp, err := prometheus.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		return exp, nil
	},
}

// IsNone reports whether name disables export.
func IsNone(name string) bool {
	return name == "" || name == "none"
}

// TracingExporters lists the accepted tracing exporter names.
func TracingExporters() []string { return names(traceFactories) }

// MetricsExporters lists the accepted metrics exporter names.
func MetricsExporters() []string { return names(metricFactories) }

// NewTracingExporter returns the span exporter registered under name, or
// nil for "none" and "".
func NewTracingExporter(ctx context.Context, name string, o Options) (sdktrace.SpanExporter, error) {
	if IsNone(name) {
		return nil, nil
	}
	f, ok := traceFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: tracing %q", ErrUnknownExporter, name)
	}
	return f(ctx, o)
}

// NewMetricsReader returns the metric reader registered under name, or nil
// for "none" and "".
func NewMetricsReader(ctx context.Context, name string, o Options) (sdkmetric.Reader, error) {
	if IsNone(name) {
		return nil, nil
	}
	f, ok := metricFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: metrics %q", ErrUnknownExporter, name)
	}
	return f(ctx, o)
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

func (o Options) readerOptions() []sdkmetric.PeriodicReaderOption {
	if o.Interval <= 0 {
		return nil
	}
	return []sdkmetric.PeriodicReaderOption{sdkmetric.WithInterval(o.Interval)}
}

// requireEnv succeeds if any of the variables is set and non-empty.
func requireEnv(vars ...string) error {
	for _, v := range vars {
		if os.Getenv(v) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: set %s", ErrEndpointNotConfigured, vars[0])
}

func names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m)+2)
	for name := range m {
		out = append(out, name)
	}
	out = append(out, "none", "")
	slices.Sort(out)
	return out
}
