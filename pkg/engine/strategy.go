package engine

import (
	"fmt"
)

// StrategyOptions selects and tunes a strategy.
type StrategyOptions struct {
	Kind           StrategyKind
	Direction      Direction
	Workers        int
	VerifyBoundary bool
}

// NewStrategy returns the strategy described by opts.
func NewStrategy(opts StrategyOptions) (Strategy, error) {
	kind := opts.Kind
	if kind == "" {
		kind = StrategyBisect
	}
	if err := kind.Validate(); err != nil {
		return nil, NewProgrammingError(err.Error(), err).WithCode(ErrCodeValidation)
	}

	switch kind {
	case StrategyLinear:
		dir := opts.Direction
		if dir == "" {
			dir = DirectionAscending
		}
		if err := dir.Validate(); err != nil {
			return nil, NewProgrammingError(err.Error(), err).WithCode(ErrCodeValidation)
		}
		return Linear{Direction: dir}, nil
	case StrategyExhaustive:
		return Exhaustive{Workers: opts.Workers}, nil
	case StrategyBisect:
		return Bisect{VerifyBoundary: opts.VerifyBoundary}, nil
	default:
		return nil, fmt.Errorf("unhandled strategy %s", kind)
	}
}
