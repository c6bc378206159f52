package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/config"
	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
	"github.com/openfroyo/msrv/pkg/telemetry"
	"github.com/openfroyo/msrv/pkg/toolchain"
	"github.com/openfroyo/msrv/pkg/transports/ssh"
)

// shutdownTimeout bounds flushing spans and draining events after a run.
const shutdownTimeout = 10 * time.Second

// session holds the collaborators of one command invocation.
type session struct {
	cfg       *config.RunConfig
	telemetry *telemetry.Telemetry
	engine    *engine.Engine

	// store is nil when persistence is disabled.
	store *stores.SQLiteStore

	closers []func() error
}

// openSession wires telemetry, the optional ledger store, the command runner and the engine
// for cfg. The caller must Close the session.
func openSession(ctx context.Context, cfg *config.RunConfig, g *globalOptions) (*session, error) {
	s := &session{cfg: cfg}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg, g))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel
	s.closers = append(s.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return tel.Shutdown(shutdownCtx)
	})

	if err := tel.StartMetricsServer(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	if cfg.State.Path != "" {
		store, err := openStore(ctx, cfg.State.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.store = store
		// Closed last so events still queued at shutdown are recorded.
		s.closers = append([]func() error{store.Close}, s.closers...)
		tel.Events.Subscribe(store.EventRecorder(context.WithoutCancel(ctx)), nil)
	}

	runner, err := s.checkRunner()
	if err != nil {
		s.Close()
		return nil, err
	}

	provisioner, err := toolchain.NewCommandProvisioner(runner, cfg.ProvisionerConfig())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid toolchain configuration: %w", err)
	}
	checker, err := toolchain.NewCommandChecker(runner, cfg.CheckerConfig())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid check configuration: %w", err)
	}

	// Release listings are always fetched from this host.
	catalog, err := cfg.OpenCatalog(toolchain.NewLocalRunner())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	deps := engine.Dependencies{
		Catalog:     catalog,
		Provisioner: provisioner,
		Checker:     checker,
		Reporter:    tel.Reporter(),
	}
	if s.store != nil {
		deps.Sink = s.store
	}

	s.engine, err = engine.New(deps)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// checkRunner returns the runner for provisioning and check commands: an SSH client when a
// remote host is configured, this host otherwise.
func (s *session) checkRunner() (toolchain.Runner, error) {
	sshConfig := s.cfg.SSHConfig()
	if sshConfig == nil {
		return toolchain.NewLocalRunner(), nil
	}

	client, err := ssh.NewClient(sshConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid remote configuration: %w", err)
	}
	s.closers = append(s.closers, client.Disconnect)

	log.Debug().
		Str("host", sshConfig.Address()).
		Str("user", sshConfig.User).
		Msg("Running checks on remote host")
	return client, nil
}

// Close releases everything the session opened, in reverse order.
func (s *session) Close() {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down cleanly")
	}
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func telemetryConfig(cfg *config.RunConfig, g *globalOptions) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if g.version != "" {
		tc.ServiceVersion = g.version
	}

	if g.verbose {
		tc.Logging.Level = "debug"
	}
	if cfg.Telemetry.LogFile != "" {
		tc.Logging.Output = cfg.Telemetry.LogFile
		tc.Logging.Format = "json"
		tc.Logging.TimeFormat = "rfc3339"
	}

	tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddress

	if exporter := cfg.Telemetry.TraceExporter; exporter != "" && exporter != "none" {
		tc.Tracing.Enabled = true
		tc.Tracing.Exporter = exporter
		tc.Tracing.Endpoint = cfg.Telemetry.TraceEndpoint
	}
	return tc
}
