// Package telemetry provides observability for msrv runs.
//
// The package integrates structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus), and an event publisher. Every part that consumes engine lifecycle events
// implements engine.Reporter, and Telemetry.Reporter combines them:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	eng, err := engine.New(engine.Dependencies{
//	    Catalog:     cat,
//	    Provisioner: prov,
//	    Checker:     checker,
//	    Reporter:    tel.Reporter(),
//	})
//
// # Logging
//
// Logger wraps zerolog with console or JSON output. As a reporter it logs terminal
// transitions and search boundaries at info, retries at warn, and the rest at debug.
//
// # Tracing
//
// NewTracer installs the global tracer provider with an otlp, stdout or none exporter. The
// engine creates its spans through the global provider.
//
// # Metrics
//
// Metrics registers run and probe counters on a private registry. Metrics are exposed over
// HTTP only when MetricsConfig.ListenAddress is set.
//
// # Events
//
// EventPublisher buffers events and delivers them to subscribers from a single goroutine,
// so subscribers see events in emission order. A full buffer drops events instead of
// blocking the search; Shutdown delivers whatever is still buffered.
package telemetry
