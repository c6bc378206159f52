package engine

import (
	"context"

	"github.com/openfroyo/msrv/pkg/version"
)

// Catalog supplies the known toolchain releases.
type Catalog interface {
	// ListCandidates returns the releases in strictly ascending order. Failures to reach or
	// parse the source are reported as *CatalogError.
	ListCandidates(ctx context.Context) ([]version.Version, error)
}

// Provisioner makes a toolchain available on the host that runs checks.
type Provisioner interface {
	// EnsureAvailable installs the toolchain for v if needed. Calling it for an already
	// installed version is a cheap no-op. Failures are reported as *ProvisionError.
	EnsureAvailable(ctx context.Context, v version.Version) error
}

// Checker runs the compatibility check of a project under a toolchain.
type Checker interface {
	// RunCheck executes spec against the project at projectPath using toolchain v.
	// A command that ran and failed is a Fail verdict with a nil error; a command that could
	// not run at all (not found, permission denied, timeout) is an *ExecutionError.
	RunCheck(ctx context.Context, v version.Version, projectPath string, spec CommandSpec) (CheckVerdict, error)
}

// Reporter receives lifecycle events. Implementations must not block; the engine never
// acts on anything a reporter does.
type Reporter interface {
	OnEvent(event LifecycleEvent)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(event LifecycleEvent)

// OnEvent calls f(event).
func (f ReporterFunc) OnEvent(event LifecycleEvent) {
	f(event)
}

// LedgerSink persists ledger entries as they are recorded. It is optional and never on the
// decision path: sink failures are logged and otherwise ignored.
type LedgerSink interface {
	SaveEntry(ctx context.Context, runID string, entry LedgerEntry) error
}

// CheckFunc probes one version. Repeated calls for the same version are served from the
// ledger. The error is non-nil only for cancellation and invariant violations; infrastructure
// failures are reported through the outcome.
type CheckFunc func(ctx context.Context, v version.Version) (CheckOutcome, error)

// Strategy decides which candidates to probe and in what order.
type Strategy interface {
	// Name returns a short human readable name, e.g. "bisect" or "linear(descending)".
	Name() string

	// Search runs the strategy over candidates.
	Search(ctx context.Context, candidates CandidateSet, check CheckFunc) (Result, error)
}
