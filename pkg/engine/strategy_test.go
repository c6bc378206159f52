package engine

import (
	"context"
	"math/bits"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/msrv/pkg/version"
)

// countingCheck is a CheckFunc over a predicate that counts its calls.
func countingCheck(compatible func(version.Version) bool, calls *int) CheckFunc {
	return func(ctx context.Context, v version.Version) (CheckOutcome, error) {
		*calls++
		if compatible(v) {
			return Compatible(), nil
		}
		return Incompatible("fails"), nil
	}
}

// predicateCheck is a CheckFunc over a predicate that is safe for concurrent use.
func predicateCheck(compatible func(version.Version) bool) CheckFunc {
	return func(ctx context.Context, v version.Version) (CheckOutcome, error) {
		if compatible(v) {
			return Compatible(), nil
		}
		return Incompatible("fails"), nil
	}
}

func TestScenarioA_BisectFindsBoundaryInTwoProbes(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))

	report, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if report.Result.Kind != ResultMinimalCompatible {
		t.Fatalf("Expected %s, got %s", ResultMinimalCompatible, report.Result.Kind)
	}
	if want := version.MustParse("1.2.0"); !report.Result.Version.Equal(want) {
		t.Errorf("Expected version %s, got %s", want, report.Result.Version)
	}
	if got := f.checker.totalCalls(); got != 2 {
		t.Errorf("Expected exactly 2 probes, got %d", got)
	}
	if report.Probes != 2 {
		t.Errorf("Expected report to count 2 probes, got %d", report.Probes)
	}
}

func TestScenarioB_NoneCompatible(t *testing.T) {
	f := newFixture(t, 4, compatibleAt())

	report, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if report.Result.Kind != ResultNoneCompatible {
		t.Errorf("Expected %s, got %s", ResultNoneCompatible, report.Result.Kind)
	}
	if report.Result.Version != nil {
		t.Errorf("Expected no version, got %s", report.Result.Version)
	}
	if report.Result.Found() {
		t.Error("NoneCompatible must not report a found version")
	}
}

func TestScenarioC_AllCompatible(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(0))

	report, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if report.Result.Kind != ResultAllCompatible {
		t.Errorf("Expected %s, got %s", ResultAllCompatible, report.Result.Kind)
	}
	if want := version.MustParse("1.0.0"); report.Result.Version == nil || !report.Result.Version.Equal(want) {
		t.Errorf("Expected oldest candidate %s, got %v", want, report.Result.Version)
	}
}

func TestScenarioD_ExhaustiveSortsByCatalogOrder(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(1))

	// Later versions finish first.
	f.checker.delays["1.0.0"] = 60 * time.Millisecond
	f.checker.delays["1.1.0"] = 40 * time.Millisecond
	f.checker.delays["1.2.0"] = 10 * time.Millisecond
	f.checker.delays["1.3.0"] = 1 * time.Millisecond

	opts := runOptions(StrategyExhaustive)
	opts.Workers = 2

	report, err := f.engine.Find(context.Background(), opts)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if report.Result.Kind != ResultCompatibilityMap {
		t.Fatalf("Expected %s, got %s", ResultCompatibilityMap, report.Result.Kind)
	}
	if len(report.Result.Entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(report.Result.Entries))
	}

	var got []string
	for _, e := range report.Result.Entries {
		got = append(got, e.Version.String()+"="+string(e.Outcome.Kind))
	}
	want := []string{
		"1.0.0=incompatible",
		"1.1.0=compatible",
		"1.2.0=compatible",
		"1.3.0=compatible",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}

	if f.checker.maxInflight > 2 {
		t.Errorf("Expected at most 2 concurrent checks, got %d", f.checker.maxInflight)
	}
	if want := version.MustParse("1.1.0"); !report.Result.Version.Equal(want) {
		t.Errorf("Expected oldest compatible %s, got %s", want, report.Result.Version)
	}
	if report.Result.Details != "" {
		t.Errorf("Expected clean map, got details %q", report.Result.Details)
	}
}

// For every monotonic predicate over catalogs of up to 8 versions, all strategies agree and
// bisect stays within its probe bound.
func TestStrategiesAgreeOnMonotonicPredicates(t *testing.T) {
	for n := 0; n <= 8; n++ {
		cs := candidateSet(t, catalogOf(n))
		for boundary := 0; boundary <= n; boundary++ {
			pred := compatibleFrom(boundary)

			bisectCalls := 0
			bisect, err := Bisect{}.Search(context.Background(), cs, countingCheck(pred, &bisectCalls))
			if err != nil {
				t.Fatalf("n=%d boundary=%d: bisect failed: %v", n, boundary, err)
			}

			if limit := bits.Len(uint(n)); bisectCalls > limit {
				t.Errorf("n=%d boundary=%d: bisect used %d probes, limit %d", n, boundary, bisectCalls, limit)
			}

			for _, s := range []Strategy{
				Linear{Direction: DirectionAscending},
				Linear{Direction: DirectionDescending},
				Bisect{VerifyBoundary: true},
			} {
				calls := 0
				got, err := s.Search(context.Background(), cs, countingCheck(pred, &calls))
				if err != nil {
					t.Fatalf("n=%d boundary=%d: %s failed: %v", n, boundary, s.Name(), err)
				}
				if diff := cmp.Diff(bisect, got); diff != "" {
					t.Errorf("n=%d boundary=%d: %s disagrees with bisect (-bisect +got):\n%s",
						n, boundary, s.Name(), diff)
				}
			}

			exhaustive, err := Exhaustive{Workers: 3}.Search(context.Background(), cs, predicateCheck(pred))
			if err != nil {
				t.Fatalf("n=%d boundary=%d: exhaustive failed: %v", n, boundary, err)
			}
			if n > 0 {
				if diff := cmp.Diff(bisect.Version, exhaustive.Version); diff != "" {
					t.Errorf("n=%d boundary=%d: exhaustive version differs (-bisect +got):\n%s", n, boundary, diff)
				}
			}
		}
	}
}

func TestBisectExpectedResults(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		boundary int
		wantKind ResultKind
		wantVer  *version.Version
	}{
		{"empty catalog", 0, 0, ResultNoneCompatible, nil},
		{"single compatible", 1, 0, ResultAllCompatible, versionPtr(version.New(1, 0, 0))},
		{"single incompatible", 1, 1, ResultNoneCompatible, nil},
		{"boundary at top", 5, 4, ResultMinimalCompatible, versionPtr(version.New(1, 4, 0))},
		{"boundary in middle", 7, 3, ResultMinimalCompatible, versionPtr(version.New(1, 3, 0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := candidateSet(t, catalogOf(tt.n))
			calls := 0
			got, err := Bisect{}.Search(context.Background(), cs, countingCheck(compatibleFrom(tt.boundary), &calls))
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			want := Result{Kind: tt.wantKind, Version: tt.wantVer}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Result mismatch (-want +got):\n%s", diff)
			}
			if tt.n == 0 && calls != 0 {
				t.Errorf("Expected no probes for an empty catalog, got %d", calls)
			}
		})
	}
}

func TestNonMonotonicPredicate(t *testing.T) {
	// Compatible at indices 2 and 5 of 6.
	pred := compatibleAt(2, 5)

	t.Run("bisect spot-check reports inconsistent", func(t *testing.T) {
		f := newFixture(t, 6, pred)
		opts := runOptions(StrategyBisect)
		opts.VerifyBoundary = true

		report, err := f.engine.Find(context.Background(), opts)
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if report.Result.Kind != ResultInconsistent {
			t.Fatalf("Expected %s, got %s (version %v)", ResultInconsistent, report.Result.Kind, report.Result.Version)
		}
		if !strings.Contains(report.Result.Details, "1.2.0") {
			t.Errorf("Expected details to name the contradicting version, got %q", report.Result.Details)
		}
		if report.Result.Found() {
			t.Error("Inconsistent result must not report a found version")
		}
	})

	t.Run("linear ascending finds the true minimum", func(t *testing.T) {
		f := newFixture(t, 6, pred)
		report, err := f.engine.Find(context.Background(), runOptions(StrategyLinear))
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if report.Result.Kind != ResultMinimalCompatible || !report.Result.Version.Equal(version.New(1, 2, 0)) {
			t.Errorf("Expected minimal compatible 1.2.0, got %s %v", report.Result.Kind, report.Result.Version)
		}
		if got := f.checker.totalCalls(); got != 3 {
			t.Errorf("Expected 3 probes, got %d", got)
		}
	})

	t.Run("exhaustive reports the full picture", func(t *testing.T) {
		f := newFixture(t, 6, pred)
		report, err := f.engine.Find(context.Background(), runOptions(StrategyExhaustive))
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(report.Result.Entries) != 6 {
			t.Fatalf("Expected 6 entries, got %d", len(report.Result.Entries))
		}
		for i, e := range report.Result.Entries {
			wantCompatible := i == 2 || i == 5
			if e.Outcome.IsCompatible() != wantCompatible {
				t.Errorf("Entry %s: expected compatible=%v, got %s", e.Version, wantCompatible, e.Outcome.Kind)
			}
		}
		if !strings.Contains(report.Result.Details, "not monotonic") {
			t.Errorf("Expected non-monotonic details, got %q", report.Result.Details)
		}
		if report.Result.Found() {
			t.Error("Irregular map must not report a found version")
		}
	})
}

func TestBisectSpotCheckProbeOrder(t *testing.T) {
	f := newFixture(t, 6, compatibleAt(2, 5))
	opts := runOptions(StrategyBisect)
	opts.VerifyBoundary = true

	if _, err := f.engine.Find(context.Background(), opts); err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	var got []string
	for _, v := range f.checker.probeOrder() {
		got = append(got, v.String())
	}
	want := []string{"1.3.0", "1.5.0", "1.4.0", "1.2.0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Probe order mismatch (-want +got):\n%s", diff)
	}
}

func TestBisectSpotCheckConfirmsMonotonicBoundary(t *testing.T) {
	f := newFixture(t, 8, compatibleFrom(5))
	opts := runOptions(StrategyBisect)
	opts.VerifyBoundary = true

	report, err := f.engine.Find(context.Background(), opts)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if report.Result.Kind != ResultMinimalCompatible || !report.Result.Version.Equal(version.New(1, 5, 0)) {
		t.Errorf("Expected minimal compatible 1.5.0, got %s %v", report.Result.Kind, report.Result.Version)
	}
	if report.Result.Strategy != "bisect(verified)" {
		t.Errorf("Expected strategy name bisect(verified), got %q", report.Result.Strategy)
	}
}

func TestLinearDescending(t *testing.T) {
	tests := []struct {
		name     string
		pred     func(version.Version) bool
		wantKind ResultKind
		wantVer  *version.Version
		probes   int
	}{
		{"boundary", compatibleFrom(2), ResultMinimalCompatible, versionPtr(version.New(1, 2, 0)), 3},
		{"all compatible", compatibleFrom(0), ResultAllCompatible, versionPtr(version.New(1, 0, 0)), 4},
		{"none compatible", compatibleAt(), ResultNoneCompatible, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := candidateSet(t, catalogOf(4))
			calls := 0
			got, err := Linear{Direction: DirectionDescending}.Search(context.Background(), cs, countingCheck(tt.pred, &calls))
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			want := Result{Kind: tt.wantKind, Version: tt.wantVer}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Result mismatch (-want +got):\n%s", diff)
			}
			if calls != tt.probes {
				t.Errorf("Expected %d probes, got %d", tt.probes, calls)
			}
		})
	}
}

func TestSequentialStrategiesStopOnInfrastructureError(t *testing.T) {
	infra := func(ctx context.Context, v version.Version) (CheckOutcome, error) {
		return InfrastructureFailure("disk full"), nil
	}
	cs := candidateSet(t, catalogOf(4))

	for _, s := range []Strategy{Bisect{}, Linear{}, Linear{Direction: DirectionDescending}} {
		t.Run(s.Name(), func(t *testing.T) {
			_, err := s.Search(context.Background(), cs, infra)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !IsInfrastructure(err) {
				t.Errorf("Expected infrastructure error, got %v", err)
			}
			if !strings.Contains(err.Error(), "disk full") {
				t.Errorf("Expected error to carry the reason, got %v", err)
			}
		})
	}
}

func TestExhaustiveRecordsInfrastructureErrors(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(1))
	f.provisioner.failures["1.2.0"] = -1

	report, err := f.engine.Find(context.Background(), runOptions(StrategyExhaustive))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	entry := report.Result.Entries[2]
	if !entry.Outcome.IsInfrastructureError() {
		t.Fatalf("Expected infrastructure error for 1.2.0, got %s", entry.Outcome.Kind)
	}
	if entry.Outcome.IsIncompatible() {
		t.Error("Infrastructure error must never be recorded as incompatible")
	}
	if !strings.Contains(report.Result.Details, "could not check 1.2.0") {
		t.Errorf("Expected details to name unchecked version, got %q", report.Result.Details)
	}
	if want := version.MustParse("1.1.0"); !report.Result.Version.Equal(want) {
		t.Errorf("Expected oldest compatible %s, got %s", want, report.Result.Version)
	}
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name     string
		opts     StrategyOptions
		wantName string
		wantErr  bool
	}{
		{"default", StrategyOptions{}, "bisect", false},
		{"bisect verified", StrategyOptions{Kind: StrategyBisect, VerifyBoundary: true}, "bisect(verified)", false},
		{"linear default direction", StrategyOptions{Kind: StrategyLinear}, "linear(ascending)", false},
		{"linear descending", StrategyOptions{Kind: StrategyLinear, Direction: DirectionDescending}, "linear(descending)", false},
		{"exhaustive", StrategyOptions{Kind: StrategyExhaustive, Workers: 4}, "exhaustive", false},
		{"unknown", StrategyOptions{Kind: "random"}, "", true},
		{"bad direction", StrategyOptions{Kind: StrategyLinear, Direction: "sideways"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStrategy(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				if !IsProgramming(err) {
					t.Errorf("Expected programming error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStrategy failed: %v", err)
			}
			if s.Name() != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, s.Name())
			}
		})
	}
}
