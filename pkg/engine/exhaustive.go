package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Exhaustive probes every candidate on a bounded worker pool and reports the complete
// compatibility map. Infrastructure outcomes are part of the map, not run failures.
type Exhaustive struct {
	// Workers bounds the number of concurrent probes. Values below one mean one.
	Workers int
}

// Name implements Strategy.
func (e Exhaustive) Name() string {
	return string(StrategyExhaustive)
}

func (e Exhaustive) workers() int {
	if e.Workers < 1 {
		return 1
	}
	return e.Workers
}

// Search implements Strategy.
func (e Exhaustive) Search(ctx context.Context, candidates CandidateSet, check CheckFunc) (Result, error) {
	n := candidates.Len()
	if n == 0 {
		return Result{Kind: ResultNoneCompatible}, nil
	}

	outcomes := make([]CheckOutcome, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			outcome, err := check(gctx, candidates.At(i))
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return summarizeMap(candidates, outcomes), nil
}

// summarizeMap names the oldest compatible candidate and explains anything that keeps the map
// from being a clean boundary.
func summarizeMap(candidates CandidateSet, outcomes []CheckOutcome) Result {
	result := Result{Kind: ResultCompatibilityMap}

	first := -1
	var failed, irregular []string
	for i, o := range outcomes {
		v := candidates.At(i)
		switch {
		case o.IsInfrastructureError():
			failed = append(failed, v.String())
		case o.IsCompatible():
			if first < 0 {
				first = i
				result.Version = &v
			}
		case o.IsIncompatible():
			if first >= 0 {
				irregular = append(irregular, v.String())
			}
		}
	}

	var details []string
	if len(irregular) > 0 {
		details = append(details, fmt.Sprintf("compatibility is not monotonic: %s compatible but %s incompatible",
			candidates.At(first), strings.Join(irregular, ", ")))
	}
	if len(failed) > 0 {
		details = append(details, fmt.Sprintf("could not check %s", strings.Join(failed, ", ")))
	}
	result.Details = strings.Join(details, "; ")
	return result
}
