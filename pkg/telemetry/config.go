package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config is the observability setup of one msrv process.
type Config struct {
	// ServiceName and ServiceVersion identify the process in traces.
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string

	// Format is "console" for humans or "json" for log files.
	Format string

	// Output is "stdout", "stderr" or a file path.
	Output string

	EnableCaller bool

	// TimeFormat applies to console output: unix, kitchen or rfc3339.
	TimeFormat string
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is "otlp", "stdout" or "none".
	Exporter string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Headers  map[string]string
	Insecure bool

	// SamplingRate is the fraction of runs traced, between 0 and 1.
	SamplingRate  float64
	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path while a run is in progress. Empty disables the server.
	ListenAddress string
	Path          string
	Namespace     string

	// ProbeBuckets are the histogram buckets of probe phase durations, in seconds.
	ProbeBuckets []float64
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds the events queued for asynchronous delivery.
	BufferSize int

	// EnableAsync delivers events from a background goroutine so that slow subscribers
	// never hold up a probe.
	EnableAsync bool
}

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error"}
	logFormats    = []string{"console", "json"}
	spanExporters = []string{"otlp", "stdout", "none"}
)

// DefaultConfig logs to stderr for humans, collects metrics without serving them, publishes
// events asynchronously and does not trace.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "msrv",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "kitchen",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			Headers:       map[string]string{},
			Insecure:      true,
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "msrv",
			// Probes install toolchains and build projects: seconds to many minutes.
			ProbeBuckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  1000,
			EnableAsync: true,
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format %q (must be console or json)", c.Logging.Format))
	}
	if c.Tracing.Enabled {
		if !slices.Contains(spanExporters, c.Tracing.Exporter) {
			errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
		}
		if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", c.Tracing.SamplingRate))
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}
	return errors.Join(errs...)
}
