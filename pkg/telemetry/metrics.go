package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/engine"
)

// Metrics exports search and probe metrics to Prometheus. A disabled Metrics has no
// collectors and ignores every call.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	runsStarted   *prometheus.CounterVec   // mode
	runsCompleted *prometheus.CounterVec   // result
	runDuration   *prometheus.HistogramVec // result
	candidates    prometheus.Gauge

	probesCompleted *prometheus.CounterVec   // outcome
	phaseDuration   *prometheus.HistogramVec // phase
	retries         prometheus.Counter
	ledgerHits      *prometheus.CounterVec // outcome
	activeProbes    prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.ProbeBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		runsStarted:   counter("runs_started_total", "Searches started, by mode.", "mode"),
		runsCompleted: counter("runs_completed_total", "Searches finished, by result kind.", "result"),
		runDuration:   histogram("run_duration_seconds", "Wall-clock duration of searches.", "result"),
		candidates:    gauge("candidates", "Candidate versions of the current search."),

		probesCompleted: counter("probes_completed_total", "Versions probed to a terminal state, by outcome.", "outcome"),
		phaseDuration:   histogram("probe_phase_duration_seconds", "Time a version spent in each probe phase.", "phase"),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "probe_retries_total",
			Help:      "Probe attempts retried after an infrastructure failure.",
		}),
		ledgerHits:   counter("ledger_hits_total", "Probes answered from the ledger, by outcome.", "outcome"),
		activeProbes: gauge("active_probes", "Versions currently being provisioned or checked."),
	}

	m.registry.MustRegister(
		m.runsStarted, m.runsCompleted, m.runDuration, m.candidates,
		m.probesCompleted, m.phaseDuration, m.retries, m.ledgerHits, m.activeProbes,
	)
	return m, nil
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRetry counts a retried probe attempt.
func (m *Metrics) RecordRetry() {
	if m.registry != nil {
		m.retries.Inc()
	}
}

// OnEvent implements engine.Reporter.
func (m *Metrics) OnEvent(event engine.LifecycleEvent) {
	if m.registry == nil {
		return
	}

	switch event.Type {
	case engine.EventTypeSearchStarted:
		mode := "find"
		if event.Version != nil {
			mode = "verify"
		}
		m.runsStarted.WithLabelValues(mode).Inc()
		m.candidates.Set(float64(event.Candidates))

	case engine.EventTypeSearchFinished:
		result := "error"
		if event.Result != nil {
			result = string(event.Result.Kind)
		}
		m.runsCompleted.WithLabelValues(result).Inc()
		m.runDuration.WithLabelValues(result).Observe(event.Elapsed.Seconds())

	case engine.EventTypeCacheHit:
		if event.Outcome != nil {
			m.ledgerHits.WithLabelValues(string(event.Outcome.Kind)).Inc()
		}

	case engine.EventTypeRetry:
		m.RecordRetry()

	case engine.EventTypeTransition:
		// Leaving Pending starts a probe; every other transition closes a timed phase.
		if event.From == engine.ProbeStatePending {
			m.activeProbes.Inc()
		} else {
			m.phaseDuration.WithLabelValues(string(event.From)).Observe(event.Elapsed.Seconds())
		}
		if event.To.IsTerminal() {
			m.activeProbes.Dec()
			if event.Outcome != nil {
				m.probesCompleted.WithLabelValues(string(event.Outcome.Kind)).Inc()
			}
		}
	}
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves the metrics endpoint in the background when a listen address
// is configured. Serve errors are logged, not returned.
func (m *Metrics) StartMetricsServer() error {
	if m.registry == nil || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", srv.Addr).Msg("Metrics server failed")
		}
	}(m.server)

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
