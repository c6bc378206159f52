package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/msrv/pkg/catalog"
	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/manifest"
	"github.com/openfroyo/msrv/pkg/toolchain"
	"github.com/openfroyo/msrv/pkg/transports/ssh"
	"github.com/openfroyo/msrv/pkg/version"
)

// defaultRetryDelay is the first backoff delay when retries are enabled.
const defaultRetryDelay = time.Second

// RunOptions converts the configuration into engine options.
func (c *RunConfig) RunOptions() (engine.RunOptions, error) {
	narrowing, err := c.Narrowing()
	if err != nil {
		return engine.RunOptions{}, err
	}

	project, err := filepath.Abs(c.Project)
	if err != nil {
		return engine.RunOptions{}, fmt.Errorf("failed to resolve project path: %w", err)
	}

	retryDelay := time.Duration(c.Search.RetryDelay)
	if retryDelay == 0 && c.Search.Retries > 0 {
		retryDelay = defaultRetryDelay
	}

	opts := engine.RunOptions{
		Strategy:       engine.StrategyKind(c.Search.Strategy),
		Direction:      engine.Direction(c.Search.Direction),
		Workers:        c.Search.Workers,
		VerifyBoundary: c.Search.VerifyBoundary,
		ProjectPath:    project,
		Command: engine.CommandSpec{
			Argv: c.Check.Command,
			Env:  c.Check.Env,
		},
		Timeout:        time.Duration(c.Check.Timeout),
		MaxRetries:     c.Search.Retries,
		RetryBaseDelay: retryDelay,
		Narrowing:      narrowing,
	}
	if err := opts.Validate(); err != nil {
		return engine.RunOptions{}, err
	}
	return opts, nil
}

// Narrowing returns the catalog filter of the search section.
func (c *RunConfig) Narrowing() (engine.Narrowing, error) {
	n := engine.Narrowing{
		IncludeAllPatches:  c.Search.IncludeAllPatches,
		IncludePrereleases: c.Search.IncludePrereleases,
	}

	if c.Search.MinVersion != "" {
		v, err := version.ParseBare(c.Search.MinVersion)
		if err != nil {
			return engine.Narrowing{}, fmt.Errorf("min_version: %w", err)
		}
		n.Min = &v
	}
	if c.Search.MaxVersion != "" {
		v, err := version.ParseBare(c.Search.MaxVersion)
		if err != nil {
			return engine.Narrowing{}, fmt.Errorf("max_version: %w", err)
		}
		n.Max = &v
	}
	if n.Min != nil && n.Max != nil && n.Max.Less(*n.Min) {
		return engine.Narrowing{}, fmt.Errorf("max_version %s is below min_version %s", n.Max, n.Min)
	}
	return n, nil
}

// Declared returns the declared minimum version: declared_version when set, otherwise the
// version in the project's Cargo.toml. Nil means neither declares one.
func (c *RunConfig) Declared() (*version.Version, error) {
	if c.DeclaredVersion != "" {
		v, err := version.ParseBare(c.DeclaredVersion)
		if err != nil {
			return nil, fmt.Errorf("declared_version: %w", err)
		}
		return &v, nil
	}

	v, err := manifest.MinimumVersion(c.Project)
	if errors.Is(err, manifest.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// ProvisionerConfig returns the toolchain installer settings.
func (c *RunConfig) ProvisionerConfig() toolchain.ProvisionerConfig {
	return toolchain.ProvisionerConfig{
		Install:    c.Toolchain.Install,
		Installed:  c.Toolchain.Installed,
		InstallDir: c.Toolchain.InstallDir,
		Target:     c.Target,
		Env:        c.Toolchain.Env,
	}
}

// CheckerConfig returns the check runner settings.
func (c *RunConfig) CheckerConfig() toolchain.CheckerConfig {
	return toolchain.CheckerConfig{
		Wrapper:    c.Toolchain.Wrapper,
		InstallDir: c.Toolchain.InstallDir,
		Target:     c.Target,
	}
}

// OpenCatalog returns the release catalog. An inline version list wins over Source.
func (c *RunConfig) OpenCatalog(runner toolchain.Runner) (engine.Catalog, error) {
	if len(c.Catalog.Versions) > 0 {
		return catalog.NewStatic(c.Catalog.Versions...)
	}
	return catalog.Open(c.Catalog.Source, runner)
}

// SSHConfig returns the connection settings of the remote check host, or nil when checks
// run locally.
func (c *RunConfig) SSHConfig() *ssh.Config {
	r := c.Remote
	if r == nil {
		return nil
	}

	cfg := ssh.DefaultConfig(r.Host, r.User)
	if r.Port != 0 {
		cfg.Port = r.Port
	}
	switch r.Auth {
	case "password":
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = os.ExpandEnv(r.Password)
	case "agent":
		cfg.AuthMethod = ssh.AuthMethodAgent
	default:
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = r.KeyPath
	}
	if r.KnownHosts != "" {
		cfg.KnownHostsPath = r.KnownHosts
	}
	cfg.StrictHostKeyChecking = !r.Insecure

	if r.JumpHost != "" {
		cfg.Jump = cfg.JumpConfig(r.JumpHost, r.JumpUser)
	}
	return cfg
}
