package observe

import (
	"errors"

	"github.com/jonwraymond/modelops/observe/exporters"
)

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample fraction must be within [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")
	ErrInvalidInterval        = errors.New("observe: metrics interval must not be negative")

	// ErrNilObserver is returned when instrumentation is requested from a
	// nil Observer.
	ErrNilObserver = errors.New("observe: observer is nil")

	// ErrMissingComponentName is returned by Component.Validate.
	ErrMissingComponentName = errors.New("observe: component name is required")
)

// ErrEndpointNotConfigured is returned when an OTLP or Jaeger exporter is
// selected without its endpoint environment variable.
var ErrEndpointNotConfigured = exporters.ErrEndpointNotConfigured

// LogLevels lists the accepted LoggingConfig.Level values.
var LogLevels = []string{"", "debug", "info", "warn", "error"}

// RedactedFields are field keys whose values the logger replaces with
// "[REDACTED]". Inputs and outputs of model calls are included since they
// may carry prompts or generated text.
var RedactedFields = []string{
	"input",
	"inputs",
	"value",
	"output",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
}
