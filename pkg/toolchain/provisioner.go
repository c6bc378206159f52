package toolchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/version"
)

// maxDiagnostic bounds the command output quoted in provisioning errors.
const maxDiagnostic = 2048

// ProvisionerConfig configures a CommandProvisioner.
type ProvisionerConfig struct {
	// Install installs a toolchain, e.g. "rustup toolchain install --profile minimal {version}".
	Install []string

	// Installed optionally reports whether a toolchain is already present. When it exits
	// zero, Install is skipped.
	Installed []string

	// InstallDir is the directory toolchains are installed into. It is substituted as
	// {install_dir} and is the only directory provisioning writes to.
	InstallDir string

	// Target is substituted as {target}.
	Target string

	// Env contains extra environment variables for provisioning commands.
	Env map[string]string
}

// CommandProvisioner installs toolchains by running commands through a Runner. Installs of
// the same version are serialized; different versions never wait on each other.
type CommandProvisioner struct {
	runner Runner
	config ProvisionerConfig
	locks  *keyedMutex

	mu        sync.RWMutex
	installed map[string]bool
}

// NewCommandProvisioner creates a provisioner.
func NewCommandProvisioner(runner Runner, config ProvisionerConfig) (*CommandProvisioner, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if len(config.Install) == 0 {
		return nil, errors.New("install command is required")
	}
	return &CommandProvisioner{
		runner:    runner,
		config:    config,
		locks:     newKeyedMutex(),
		installed: make(map[string]bool),
	}, nil
}

// EnsureAvailable installs the toolchain for v unless it is already known to be present.
func (p *CommandProvisioner) EnsureAvailable(ctx context.Context, v version.Version) error {
	key := v.String()
	if p.isInstalled(key) {
		return nil
	}

	unlock, err := p.locks.Lock(ctx, key)
	if err != nil {
		return &engine.ProvisionError{Version: v, Err: err}
	}
	defer unlock()

	// Another caller may have finished the install while we waited.
	if p.isInstalled(key) {
		return nil
	}

	vars := Vars{Version: v, Target: p.config.Target, InstallDir: p.config.InstallDir}
	env := ExpandEnv(p.config.Env, vars)

	if len(p.config.Installed) > 0 {
		res, err := p.runner.Run(ctx, Command{Argv: Expand(p.config.Installed, vars), Env: env})
		if err == nil && res.Success() {
			log.Debug().Str("version", key).Msg("Toolchain already installed")
			p.markInstalled(key)
			return nil
		}
	}

	log.Debug().Str("version", key).Msg("Installing toolchain")

	argv := Expand(p.config.Install, vars)
	res, err := p.runner.Run(ctx, Command{Argv: argv, Env: env})
	if err != nil {
		return &engine.ProvisionError{Version: v, Err: err}
	}
	if !res.Success() {
		return &engine.ProvisionError{
			Version: v,
			Err: fmt.Errorf("%s exited with status %d: %s",
				strings.Join(argv, " "), res.ExitCode, tail(res.Output, maxDiagnostic)),
		}
	}

	p.markInstalled(key)
	return nil
}

func (p *CommandProvisioner) isInstalled(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.installed[key]
}

func (p *CommandProvisioner) markInstalled(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installed[key] = true
}

// tail returns at most n trailing bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
