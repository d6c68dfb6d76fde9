package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/modelops/observe/exporters"
)

// Config selects exporters and log level for an Observer.
type Config struct {
	ServiceName string        `mapstructure:"service_name" validate:"required"`
	Version     string        `mapstructure:"version"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Logging     LoggingConfig `mapstructure:"logging"`

	// SetGlobal installs the providers as the otel globals.
	SetGlobal bool `mapstructure:"set_global"`

	// Output receives stdout exporter data. Default: os.Stdout
	Output io.Writer `mapstructure:"-"`

	// LogOutput receives log lines. Default: os.Stderr
	LogOutput io.Writer `mapstructure:"-"`

	// Registerer receives the prometheus collector when
	// Metrics.Exporter is "prometheus".
	Registerer promclient.Registerer `mapstructure:"-"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is one of exporters.TracingExporters().
	Exporter string `mapstructure:"exporter"`
	// SamplePct is the fraction of root spans kept, in [0, 1]. Child
	// spans follow their parent's decision.
	SamplePct float64 `mapstructure:"sample_pct"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is one of exporters.MetricsExporters().
	Exporter string `mapstructure:"exporter"`
	// Interval is the push period for stdout and otlp. Zero keeps the SDK default.
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"`
}

// Validate checks only the enabled subsystems.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	if t := c.Tracing; t.Enabled {
		if !slices.Contains(exporters.TracingExporters(), t.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidTracingExporter, t.Exporter)
		}
		if t.SamplePct < 0 || t.SamplePct > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidSamplePct, t.SamplePct)
		}
	}
	if m := c.Metrics; m.Enabled {
		if !slices.Contains(exporters.MetricsExporters(), m.Exporter) {
			return fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, m.Exporter)
		}
		if m.Interval < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidInterval, m.Interval)
		}
	}
	if c.Logging.Enabled && !slices.Contains(LogLevels, c.Logging.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level)
	}
	return nil
}

// Observer bundles the tracer, meter and logger of one service. It is safe
// for concurrent use. Shutdown flushes the exporters and may be called more
// than once.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger
	Shutdown(ctx context.Context) error
}

// Logger is the structured logger used across the module. Implementations
// must be safe for concurrent use and must never panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	WithComponent(meta Component) Logger
}

// Field is a key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

type observer struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger Logger

	// flush holds the shutdown funcs of the SDK providers that were built.
	flush []func(context.Context) error
}

// NewObserver validates cfg and builds the providers it enables. Disabled
// subsystems get no-op implementations.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	opts := exporters.Options{
		Writer:     cfg.Output,
		Interval:   cfg.Metrics.Interval,
		Registerer: cfg.Registerer,
	}
	o := &observer{
		tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:  metricnoop.NewMeterProvider().Meter(cfg.ServiceName),
		logger: NopLogger(),
	}

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg, res, opts)
		if err != nil {
			return nil, err
		}
		if cfg.SetGlobal {
			otel.SetTracerProvider(tp)
		}
		o.tracer = tp.Tracer(cfg.ServiceName)
		o.flush = append(o.flush, tp.Shutdown)
	}

	if cfg.Metrics.Enabled {
		mp, err := newMeterProvider(ctx, cfg, res, opts)
		if err != nil {
			_ = o.Shutdown(ctx)
			return nil, err
		}
		if cfg.SetGlobal {
			otel.SetMeterProvider(mp)
		}
		o.meter = mp.Meter(cfg.ServiceName)
		o.flush = append(o.flush, mp.Shutdown)
	}

	if cfg.Logging.Enabled {
		w := cfg.LogOutput
		if w == nil {
			w = os.Stderr
		}
		o.logger = NewLoggerWithWriter(cfg.Logging.Level, w)
	}
	return o, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource, opts exporters.Options) (*sdktrace.TracerProvider, error) {
	exp, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, opts)
	if err != nil {
		return nil, fmt.Errorf("observe: tracing: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(rootSampler(cfg.Tracing.SamplePct))),
	}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(tpOpts...), nil
}

func rootSampler(frac float64) sdktrace.Sampler {
	switch {
	case frac >= 1:
		return sdktrace.AlwaysSample()
	case frac <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(frac)
	}
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource, opts exporters.Options) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, opts)
	if err != nil {
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(mpOpts...), nil
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }
func (o *observer) Meter() metric.Meter  { return o.meter }
func (o *observer) Logger() Logger       { return o.logger }

// Shutdown flushes every provider and joins their errors. SDK providers
// return nil on repeated calls.
func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error
	for _, f := range o.flush {
		if err := f(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
