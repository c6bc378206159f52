// Package engine implements the search for the oldest toolchain release that still passes a
// project's compatibility check.
//
// # Overview
//
// A run flows through four pieces:
//
//  1. Catalog - supplies the known releases in strictly ascending order (CandidateSet)
//  2. Strategy - decides which candidate to probe next (Bisect, Linear, Exhaustive)
//  3. Machine - drives one version through provisioning and checking (lifecycle)
//  4. Ledger - memoizes outcomes so no version is checked twice in a run
//
// The Engine wires these together and returns a Report carrying the Result and the ledger
// entries sorted in catalog order.
//
// # Probe Lifecycle
//
// Every version moves through the states
//
//	pending -> provisioning -> checking -> compatible | incompatible | infrastructure_error
//
// Provisioning failures, check timeouts and commands that could not be executed end in
// infrastructure_error. Such an outcome is never evidence of incompatibility. When retries are
// configured the machine re-enters provisioning with exponential backoff before the outcome is
// recorded.
//
// # Strategies
//
//   - Bisect: binary search assuming compatibility is upward closed; optional boundary
//     spot-check reports Inconsistent when the assumption does not hold
//   - Linear: one version at a time, ascending or descending, no assumption
//   - Exhaustive: every candidate on a bounded worker pool; returns a compatibility map
//
// Bisect and Linear stop the run on an infrastructure outcome. Exhaustive records it in the map.
//
// # Error Classification
//
// Errors are classified so callers can tell a broken environment from a broken invariant:
//
//   - Infrastructure: catalog, provisioning or execution problems, and cancellation
//   - Consistency: the monotonicity assumption was contradicted
//   - Programming: ledger double writes, unordered candidates, illegal transitions
//
// Incompatibility is not an error. It is the signal the search runs on.
//
// # Collaborators
//
// Catalog, Provisioner, Checker, Reporter and LedgerSink are small interfaces so tests can
// inject fakes and the CLI can inject local or remote command runners:
//
//	eng, err := engine.New(engine.Dependencies{
//	    Catalog:     catalog.NewStatic(versions),
//	    Provisioner: provisioner,
//	    Checker:     checker,
//	    Reporter:    publisher,
//	})
//	report, err := eng.Find(ctx, engine.RunOptions{
//	    Strategy:    engine.StrategyBisect,
//	    ProjectPath: ".",
//	    Command:     engine.CommandSpec{Argv: []string{"cargo", "build", "--all"}},
//	})
package engine
