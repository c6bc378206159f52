package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/msrv/pkg/config"
)

// runFlags are the flags shared by find and verify. Each one overrides the configuration
// file only when it was given on the command line.
type runFlags struct {
	strategy       string
	direction      string
	timeout        time.Duration
	workers        int
	retries        int
	verifyBoundary bool
	target         string
	statePath      string
	resume         bool
	metricsAddr    string
	traceExporter  string
	traceEndpoint  string
	catalog        catalogFlags
}

// catalogFlags select and narrow the release catalog.
type catalogFlags struct {
	source      string
	versions    []string
	minVersion  string
	maxVersion  string
	allPatches  bool
	prereleases bool
}

func (f *catalogFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.source, "catalog", "", `release catalog: file, http(s) URL, "git" or "git+<repository>"`)
	flags.StringSliceVar(&f.versions, "versions", nil, "explicit release list (overrides --catalog)")
	flags.StringVar(&f.minVersion, "min", "", "oldest release to consider (e.g. 1.56)")
	flags.StringVar(&f.maxVersion, "max", "", "newest release to consider")
	flags.BoolVar(&f.allPatches, "all-patches", false, "consider every patch release instead of the latest of each minor")
	flags.BoolVar(&f.prereleases, "prereleases", false, "consider pre-releases")
}

func (f *catalogFlags) apply(cmd *cobra.Command, cfg *config.RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.Catalog.Source = f.source
		cfg.Catalog.Versions = nil
	}
	if flags.Changed("versions") {
		cfg.Catalog.Versions = f.versions
	}
	if flags.Changed("min") {
		cfg.Search.MinVersion = f.minVersion
	}
	if flags.Changed("max") {
		cfg.Search.MaxVersion = f.maxVersion
	}
	if flags.Changed("all-patches") {
		cfg.Search.IncludeAllPatches = f.allPatches
	}
	if flags.Changed("prereleases") {
		cfg.Search.IncludePrereleases = f.prereleases
	}
}

func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.strategy, "strategy", "", "search strategy: bisect, linear or exhaustive")
	flags.StringVar(&f.direction, "direction", "", "linear probe order: ascending or descending")
	flags.DurationVar(&f.timeout, "timeout", 0, "timeout of each check command (0 disables)")
	flags.IntVar(&f.workers, "workers", 0, "concurrent probes in exhaustive mode")
	flags.IntVar(&f.retries, "retries", 0, "retries of probes that failed for infrastructure reasons")
	flags.BoolVar(&f.verifyBoundary, "verify-boundary", false, "spot-check the release below a bisect boundary")
	flags.StringVar(&f.target, "target", "", "target triple substituted as {target}")
	flags.StringVar(&f.statePath, "state", "", "SQLite ledger database")
	flags.BoolVar(&f.resume, "resume", false, "reuse outcomes recorded by earlier runs with the same inputs")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	flags.StringVar(&f.traceExporter, "trace", "", "trace exporter: none, stdout or otlp")
	flags.StringVar(&f.traceEndpoint, "trace-endpoint", "", "OTLP gRPC endpoint")
	f.catalog.bind(cmd)
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Search.Strategy = f.strategy
	}
	if flags.Changed("direction") {
		cfg.Search.Direction = f.direction
	}
	if flags.Changed("timeout") {
		cfg.Check.Timeout = config.Duration(f.timeout)
	}
	if flags.Changed("workers") {
		cfg.Search.Workers = f.workers
	}
	if flags.Changed("retries") {
		cfg.Search.Retries = f.retries
	}
	if flags.Changed("verify-boundary") {
		cfg.Search.VerifyBoundary = f.verifyBoundary
	}
	if flags.Changed("target") {
		cfg.Target = f.target
	}
	if flags.Changed("state") {
		cfg.State.Path = f.statePath
	}
	if flags.Changed("resume") {
		cfg.State.Resume = f.resume
	}
	if flags.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddress = f.metricsAddr
	}
	if flags.Changed("trace") {
		cfg.Telemetry.TraceExporter = f.traceExporter
	}
	if flags.Changed("trace-endpoint") {
		cfg.Telemetry.TraceEndpoint = f.traceEndpoint
	}
	f.catalog.apply(cmd, cfg)
}

// loadConfig resolves the configuration of a command. The project directory is the first
// positional argument (default "."); arguments after "--" replace the check command.
func loadConfig(cmd *cobra.Command, args []string, g *globalOptions, apply func(*config.RunConfig)) (*config.RunConfig, error) {
	positional, checkCommand := splitDash(cmd, args)
	if len(positional) > 1 {
		return nil, fmt.Errorf("expected at most one project directory, got %d", len(positional))
	}

	projectDir := "."
	if len(positional) == 1 {
		projectDir = positional[0]
	}

	path := g.configPath
	if path == "" {
		found, err := config.Find(projectDir)
		switch {
		case err == nil:
			path = found
		case !errors.Is(err, config.ErrNotFound):
			return nil, err
		}
	}

	var cfg *config.RunConfig
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("config", path).Msg("Loaded configuration")
	} else {
		cfg = config.DefaultRunConfig()
		cfg.Project = projectDir
	}

	if len(positional) == 1 {
		cfg.Project = projectDir
	}
	if len(checkCommand) > 0 {
		cfg.Check.Command = checkCommand
	}
	if apply != nil {
		apply(cfg)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path %s is not a directory", cfg.Project)
	}
	abs, err := filepath.Abs(cfg.Project)
	if err != nil {
		return nil, err
	}
	cfg.Project = abs

	return cfg, nil
}

func splitDash(cmd *cobra.Command, args []string) (positional, rest []string) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return args, nil
	}
	return args[:dash], args[dash:]
}
