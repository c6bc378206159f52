package config

import (
	"fmt"
	"strings"
	"time"
)

// RunConfig is the run configuration file (msrv.yaml or msrv.cue).
type RunConfig struct {
	// Project is the directory the check command runs in. Relative paths are resolved
	// against the directory of the configuration file.
	Project string `json:"project,omitempty" yaml:"project,omitempty"`

	// DeclaredVersion is the minimum version checked by verify.
	DeclaredVersion string `json:"declared_version,omitempty" yaml:"declared_version,omitempty" validate:"omitempty,version"`

	// Target is substituted as {target} in command templates.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	Check     CheckConfig     `json:"check" yaml:"check"`
	Toolchain ToolchainConfig `json:"toolchain" yaml:"toolchain"`
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog"`
	Search    SearchConfig    `json:"search" yaml:"search"`
	State     StateConfig     `json:"state" yaml:"state"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Remote runs provisioning and checks on another host over SSH.
	Remote *RemoteConfig `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// CheckConfig describes the compatibility check.
type CheckConfig struct {
	// Command is the check command, e.g. ["cargo", "build", "--all"].
	Command []string `json:"command" yaml:"command" validate:"required,min=1,dive,required"`

	// Env contains extra environment variables for the check.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Timeout bounds each check. Zero disables it.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"min=0"`
}

// ToolchainConfig describes how toolchains are installed and selected.
type ToolchainConfig struct {
	// Install installs one toolchain.
	Install []string `json:"install" yaml:"install" validate:"required,min=1,dive,required"`

	// Installed optionally reports whether a toolchain is present.
	Installed []string `json:"installed,omitempty" yaml:"installed,omitempty"`

	// Wrapper is prepended to the check command to select the toolchain.
	Wrapper []string `json:"wrapper,omitempty" yaml:"wrapper,omitempty"`

	// InstallDir is substituted as {install_dir}.
	InstallDir string `json:"install_dir,omitempty" yaml:"install_dir,omitempty"`

	// Env contains extra environment variables for install commands.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// CatalogConfig selects the release catalog.
type CatalogConfig struct {
	// Source is a file path, an http(s) URL, "git" for the default release repository,
	// or "git+<url>" for another repository.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Versions is an inline release list. It takes precedence over Source.
	Versions []string `json:"versions,omitempty" yaml:"versions,omitempty" validate:"dive,version"`
}

// SearchConfig selects and tunes the search strategy.
type SearchConfig struct {
	Strategy  string `json:"strategy" yaml:"strategy" validate:"oneof=bisect linear exhaustive"`
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty" validate:"omitempty,oneof=ascending descending"`

	// Workers bounds concurrent probes in exhaustive mode.
	Workers int `json:"workers" yaml:"workers" validate:"min=1,max=64"`

	// VerifyBoundary spot-checks the version below a bisect boundary.
	VerifyBoundary bool `json:"verify_boundary,omitempty" yaml:"verify_boundary,omitempty"`

	// Retries re-attempts probes that failed for infrastructure reasons.
	Retries    int      `json:"retries,omitempty" yaml:"retries,omitempty" validate:"min=0,max=10"`
	RetryDelay Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty" validate:"min=0"`

	MinVersion         string `json:"min_version,omitempty" yaml:"min_version,omitempty" validate:"omitempty,version"`
	MaxVersion         string `json:"max_version,omitempty" yaml:"max_version,omitempty" validate:"omitempty,version"`
	IncludeAllPatches  bool   `json:"include_all_patches,omitempty" yaml:"include_all_patches,omitempty"`
	IncludePrereleases bool   `json:"include_prereleases,omitempty" yaml:"include_prereleases,omitempty"`
}

// StateConfig configures the persistent ledger store.
type StateConfig struct {
	// Path is the SQLite database. Empty disables persistence.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Resume seeds the ledger from earlier runs with the same fingerprint.
	Resume bool `json:"resume,omitempty" yaml:"resume,omitempty"`
}

// TelemetryConfig selects the observability outputs of a run.
type TelemetryConfig struct {
	// MetricsAddress serves Prometheus metrics while the run is in progress.
	MetricsAddress string `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty" validate:"omitempty,hostname_port"`

	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `json:"trace_exporter,omitempty" yaml:"trace_exporter,omitempty" validate:"omitempty,oneof=none stdout otlp"`
	TraceEndpoint string `json:"trace_endpoint,omitempty" yaml:"trace_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`

	// LogFile additionally writes JSON logs to a file.
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

// RemoteConfig is an SSH check host.
type RemoteConfig struct {
	Host       string `json:"host" yaml:"host" validate:"required"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User       string `json:"user" yaml:"user" validate:"required"`
	Auth       string `json:"auth,omitempty" yaml:"auth,omitempty" validate:"omitempty,oneof=key password agent"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty" validate:"required_if=Auth password"`
	KeyPath    string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`

	// Insecure accepts any host key.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty"`

	// JumpHost is a bastion the connection is tunnelled through. It uses the same
	// credentials as the check host.
	JumpHost string `json:"jump_host,omitempty" yaml:"jump_host,omitempty"`
	JumpUser string `json:"jump_user,omitempty" yaml:"jump_user,omitempty" validate:"required_with=JumpHost"`
}

// Duration is a time.Duration written as a string such as "10m" or "90s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ValidationError is a configuration problem with its location, when known.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
