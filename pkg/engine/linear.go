package engine

import (
	"context"
)

// Linear probes candidates one at a time and stops at the first transition. It makes no
// monotonicity assumption.
type Linear struct {
	Direction Direction
}

// Name implements Strategy.
func (l Linear) Name() string {
	return "linear(" + string(l.direction()) + ")"
}

func (l Linear) direction() Direction {
	if l.Direction == "" {
		return DirectionAscending
	}
	return l.Direction
}

// Search implements Strategy. Ascending stops at the first compatible candidate; descending
// stops at the first incompatible one and reports the candidate above it.
func (l Linear) Search(ctx context.Context, candidates CandidateSet, check CheckFunc) (Result, error) {
	n := candidates.Len()
	if n == 0 {
		return Result{Kind: ResultNoneCompatible}, nil
	}

	if l.direction() == DirectionDescending {
		for i := n - 1; i >= 0; i-- {
			v := candidates.At(i)
			outcome, err := check(ctx, v)
			if err != nil {
				return Result{}, err
			}
			switch {
			case outcome.IsCompatible():
				continue
			case outcome.IsIncompatible():
				return boundaryResult(candidates, i+1), nil
			default:
				return Result{}, infrastructureAbort(v, "linear", outcome)
			}
		}
		return boundaryResult(candidates, 0), nil
	}

	for i := 0; i < n; i++ {
		v := candidates.At(i)
		outcome, err := check(ctx, v)
		if err != nil {
			return Result{}, err
		}
		switch {
		case outcome.IsCompatible():
			return boundaryResult(candidates, i), nil
		case outcome.IsIncompatible():
			continue
		default:
			return Result{}, infrastructureAbort(v, "linear", outcome)
		}
	}
	return boundaryResult(candidates, n), nil
}
