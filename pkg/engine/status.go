package engine

import (
	"fmt"
)

// ProbeState is the lifecycle state of a single version within a run.
type ProbeState string

const (
	// ProbeStatePending indicates the version has not been probed yet.
	ProbeStatePending ProbeState = "pending"

	// ProbeStateProvisioning indicates the toolchain is being made available.
	ProbeStateProvisioning ProbeState = "provisioning"

	// ProbeStateChecking indicates the check command is running under the toolchain.
	ProbeStateChecking ProbeState = "checking"

	// ProbeStateCompatible indicates the check command succeeded.
	ProbeStateCompatible ProbeState = "compatible"

	// ProbeStateIncompatible indicates the check command failed deterministically.
	ProbeStateIncompatible ProbeState = "incompatible"

	// ProbeStateInfrastructureError indicates provisioning or execution failed for reasons
	// unrelated to the project.
	ProbeStateInfrastructureError ProbeState = "infrastructure_error"
)

// IsTerminal returns true if the state is final within a run.
func (s ProbeState) IsTerminal() bool {
	return s == ProbeStateCompatible || s == ProbeStateIncompatible ||
		s == ProbeStateInfrastructureError
}

// IsActive returns true if the version is currently being worked on.
func (s ProbeState) IsActive() bool {
	return s == ProbeStateProvisioning || s == ProbeStateChecking
}

// Validate checks if the probe state is valid.
func (s ProbeState) Validate() error {
	switch s {
	case ProbeStatePending, ProbeStateProvisioning, ProbeStateChecking,
		ProbeStateCompatible, ProbeStateIncompatible, ProbeStateInfrastructureError:
		return nil
	default:
		return fmt.Errorf("invalid probe state: %s", s)
	}
}

// transitions lists the allowed edges. Provisioning is re-entered from an active state
// only when an infrastructure failure is retried; terminal states have no outgoing edges.
var transitions = map[ProbeState][]ProbeState{
	ProbeStatePending: {ProbeStateProvisioning},
	ProbeStateProvisioning: {
		ProbeStateChecking,
		ProbeStateInfrastructureError,
		ProbeStateProvisioning,
	},
	ProbeStateChecking: {
		ProbeStateCompatible,
		ProbeStateIncompatible,
		ProbeStateInfrastructureError,
		ProbeStateProvisioning,
	},
}

// CanTransition reports whether moving from s to next is a legal lifecycle edge.
func (s ProbeState) CanTransition(next ProbeState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StrategyKind selects the search strategy.
type StrategyKind string

const (
	// StrategyBisect performs binary search under the monotonicity assumption.
	StrategyBisect StrategyKind = "bisect"

	// StrategyLinear probes one version at a time in catalog order.
	StrategyLinear StrategyKind = "linear"

	// StrategyExhaustive probes every candidate on a worker pool.
	StrategyExhaustive StrategyKind = "exhaustive"
)

// Validate checks if the strategy kind is valid.
func (k StrategyKind) Validate() error {
	switch k {
	case StrategyBisect, StrategyLinear, StrategyExhaustive:
		return nil
	default:
		return fmt.Errorf("invalid strategy: %s", k)
	}
}

// Direction is the probe order of the linear strategy.
type Direction string

const (
	// DirectionAscending probes from the oldest candidate upward.
	DirectionAscending Direction = "ascending"

	// DirectionDescending probes from the newest candidate downward.
	DirectionDescending Direction = "descending"
)

// Validate checks if the direction is valid.
func (d Direction) Validate() error {
	switch d {
	case DirectionAscending, DirectionDescending:
		return nil
	default:
		return fmt.Errorf("invalid direction: %s", d)
	}
}
