package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/msrv/pkg/version"
)

// Bisect performs a binary search for the compatibility boundary. It assumes compatibility is
// upward closed in version order.
type Bisect struct {
	// VerifyBoundary spot-checks one version the search did not probe after the boundary is
	// found and reports Inconsistent when it contradicts the monotonicity assumption.
	VerifyBoundary bool
}

// Name implements Strategy.
func (b Bisect) Name() string {
	if b.VerifyBoundary {
		return "bisect(verified)"
	}
	return string(StrategyBisect)
}

// Search implements Strategy. The search range [lo, hi) always holds the boundary index, where
// hi == n stands for "above the catalog". An infrastructure outcome carries no direction and
// stops the search.
func (b Bisect) Search(ctx context.Context, candidates CandidateSet, check CheckFunc) (Result, error) {
	n := candidates.Len()
	if n == 0 {
		return Result{Kind: ResultNoneCompatible}, nil
	}

	probed := make(map[int]bool)
	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		v := candidates.At(mid)

		outcome, err := check(ctx, v)
		if err != nil {
			return Result{}, err
		}
		probed[mid] = true

		switch {
		case outcome.IsCompatible():
			hi = mid
		case outcome.IsIncompatible():
			lo = mid + 1
		default:
			return Result{}, infrastructureAbort(v, "bisect", outcome)
		}
	}

	result := boundaryResult(candidates, lo)
	if !b.VerifyBoundary {
		return result, nil
	}
	return b.spotCheck(ctx, candidates, check, lo, probed, result)
}

// spotCheck probes the nearest unprobed candidate below the boundary, expecting it to be
// incompatible. When every candidate below was probed it falls back to the nearest unprobed
// candidate at or above the boundary, expecting it to be compatible.
func (b Bisect) spotCheck(
	ctx context.Context,
	candidates CandidateSet,
	check CheckFunc,
	boundary int,
	probed map[int]bool,
	result Result,
) (Result, error) {
	idx, expectCompatible := -1, false
	for i := boundary - 1; i >= 0; i-- {
		if !probed[i] {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i := boundary; i < candidates.Len(); i++ {
			if !probed[i] {
				idx, expectCompatible = i, true
				break
			}
		}
	}
	if idx < 0 {
		return result, nil
	}

	v := candidates.At(idx)
	outcome, err := check(ctx, v)
	if err != nil {
		return Result{}, err
	}
	if outcome.IsInfrastructureError() {
		return Result{}, infrastructureAbort(v, "bisect spot-check", outcome)
	}
	if outcome.IsCompatible() == expectCompatible {
		return result, nil
	}

	return Result{
		Kind:    ResultInconsistent,
		Details: inconsistencyDetails(candidates, boundary, v, outcome),
	}, nil
}

func inconsistencyDetails(candidates CandidateSet, boundary int, v version.Version, got CheckOutcome) string {
	var found string
	switch {
	case boundary >= candidates.Len():
		found = "no compatible version"
	case boundary == 0:
		found = "every version compatible"
	default:
		found = "boundary at " + candidates.At(boundary).String()
	}
	return fmt.Sprintf("bisection found %s, but %s is %s; compatibility is not monotonic",
		found, v, got.Kind)
}

// boundaryResult maps a boundary index to a result.
func boundaryResult(candidates CandidateSet, boundary int) Result {
	switch {
	case boundary >= candidates.Len():
		return Result{Kind: ResultNoneCompatible}
	case boundary == 0:
		v := candidates.At(0)
		return Result{Kind: ResultAllCompatible, Version: &v}
	default:
		v := candidates.At(boundary)
		return Result{Kind: ResultMinimalCompatible, Version: &v}
	}
}

// infrastructureAbort builds the fatal error a sequential strategy returns when a probe could
// not be carried out.
func infrastructureAbort(v version.Version, operation string, outcome CheckOutcome) error {
	return NewInfrastructureError("probe could not be carried out", errors.New(outcome.Reason)).
		WithVersion(v).
		WithOperation(operation)
}
