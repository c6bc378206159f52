package engine

import (
	"time"

	"github.com/openfroyo/msrv/pkg/version"
)

// OutcomeKind classifies the result of probing one version.
type OutcomeKind string

const (
	// OutcomeCompatible indicates the check passed.
	OutcomeCompatible OutcomeKind = "compatible"

	// OutcomeIncompatible indicates the check failed deterministically.
	OutcomeIncompatible OutcomeKind = "incompatible"

	// OutcomeInfrastructureError indicates the check could not be carried out.
	// It is never evidence of incompatibility.
	OutcomeInfrastructureError OutcomeKind = "infrastructure_error"
)

// CheckOutcome is the classified result of probing one version.
type CheckOutcome struct {
	// Kind is the outcome classification.
	Kind OutcomeKind `json:"kind"`

	// Diagnostic is the captured output of an incompatible check. It is not interpreted.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Reason describes an infrastructure failure.
	Reason string `json:"reason,omitempty"`
}

// Compatible returns a compatible outcome.
func Compatible() CheckOutcome {
	return CheckOutcome{Kind: OutcomeCompatible}
}

// Incompatible returns an incompatible outcome with the given diagnostic output.
func Incompatible(diagnostic string) CheckOutcome {
	return CheckOutcome{Kind: OutcomeIncompatible, Diagnostic: diagnostic}
}

// InfrastructureFailure returns an infrastructure error outcome.
func InfrastructureFailure(reason string) CheckOutcome {
	return CheckOutcome{Kind: OutcomeInfrastructureError, Reason: reason}
}

// IsCompatible reports whether the outcome is Compatible.
func (o CheckOutcome) IsCompatible() bool { return o.Kind == OutcomeCompatible }

// IsIncompatible reports whether the outcome is Incompatible.
func (o CheckOutcome) IsIncompatible() bool { return o.Kind == OutcomeIncompatible }

// IsInfrastructureError reports whether the outcome is an infrastructure error.
func (o CheckOutcome) IsInfrastructureError() bool { return o.Kind == OutcomeInfrastructureError }

// State returns the terminal probe state that corresponds to the outcome.
func (o CheckOutcome) State() ProbeState {
	switch o.Kind {
	case OutcomeCompatible:
		return ProbeStateCompatible
	case OutcomeIncompatible:
		return ProbeStateIncompatible
	default:
		return ProbeStateInfrastructureError
	}
}

// LedgerEntry is one recorded outcome.
type LedgerEntry struct {
	Version   version.Version `json:"version"`
	Outcome   CheckOutcome    `json:"outcome"`
	Timestamp time.Time       `json:"timestamp"`

	// Resumed is set for entries pre-seeded from an earlier run.
	Resumed bool `json:"resumed,omitempty"`
}

// ResultKind classifies the final answer of a run.
type ResultKind string

const (
	// ResultMinimalCompatible reports the oldest compatible version.
	ResultMinimalCompatible ResultKind = "minimal_compatible"

	// ResultNoneCompatible reports that no candidate is compatible.
	ResultNoneCompatible ResultKind = "none_compatible"

	// ResultAllCompatible reports that every candidate is compatible; the boundary lies
	// below the catalog.
	ResultAllCompatible ResultKind = "all_compatible"

	// ResultInconsistent reports that the monotonicity assumption was contradicted.
	ResultInconsistent ResultKind = "inconsistent"

	// ResultCompatibilityMap reports the full outcome map of an exhaustive run.
	ResultCompatibilityMap ResultKind = "compatibility_map"

	// ResultVerified reports that a declared version passed verification.
	ResultVerified ResultKind = "verified"

	// ResultVerificationFailed reports that a declared version failed verification.
	ResultVerificationFailed ResultKind = "verification_failed"
)

// Result is the final answer of a run.
type Result struct {
	Kind ResultKind `json:"kind"`

	// Version is the boundary for MinimalCompatible, the oldest candidate for AllCompatible,
	// the oldest compatible entry of a CompatibilityMap and the declared version for the
	// verification kinds. Nil otherwise.
	Version *version.Version `json:"version,omitempty"`

	// Details explains Inconsistent results and irregular compatibility maps.
	Details string `json:"details,omitempty"`

	// Strategy is the name of the strategy that produced the result.
	Strategy string `json:"strategy,omitempty"`

	// Entries is the ledger restricted to the candidate set, in catalog order.
	Entries []LedgerEntry `json:"entries,omitempty"`
}

// Found reports whether the result names a usable minimum version.
func (r Result) Found() bool {
	switch r.Kind {
	case ResultMinimalCompatible, ResultAllCompatible, ResultVerified:
		return r.Version != nil
	case ResultCompatibilityMap:
		return r.Version != nil && r.Details == ""
	default:
		return false
	}
}

// VerdictKind is the outcome of an executed check command.
type VerdictKind string

const (
	// VerdictPass indicates a zero-equivalent exit signal.
	VerdictPass VerdictKind = "pass"

	// VerdictFail indicates a non-zero-equivalent exit signal.
	VerdictFail VerdictKind = "fail"
)

// CheckVerdict is what a Checker reports for a command that ran to completion.
type CheckVerdict struct {
	Kind VerdictKind

	// Diagnostic is whatever output the command produced, kept verbatim.
	Diagnostic string
}

// Pass returns a passing verdict.
func Pass() CheckVerdict {
	return CheckVerdict{Kind: VerdictPass}
}

// Fail returns a failing verdict carrying the command output.
func Fail(diagnostic string) CheckVerdict {
	return CheckVerdict{Kind: VerdictFail, Diagnostic: diagnostic}
}

// CommandSpec describes the check command. Argument templates are expanded by the Checker.
type CommandSpec struct {
	// Argv is the command and its arguments.
	Argv []string `json:"argv"`

	// Env contains additional environment variables.
	Env map[string]string `json:"env,omitempty"`

	// Timeout bounds a single check execution. Zero disables the timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}
