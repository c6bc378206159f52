package engine

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/msrv/pkg/version"
)

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{Catalog: &mockCatalog{}, Checker: newMockChecker(nil)})
	if !IsProgramming(err) {
		t.Errorf("Expected programming error for missing provisioner, got %v", err)
	}
}

func TestFindEventSequence(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))

	report, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	var got []string
	for _, e := range f.reporter.getEvents() {
		s := string(e.Type)
		if e.Type == EventTypeTransition {
			s += " " + e.Version.String() + " " + string(e.To)
		}
		got = append(got, s)
	}
	want := []string{
		"search.started",
		"probe.transition 1.2.0 provisioning",
		"probe.transition 1.2.0 checking",
		"probe.transition 1.2.0 compatible",
		"probe.transition 1.1.0 provisioning",
		"probe.transition 1.1.0 checking",
		"probe.transition 1.1.0 incompatible",
		"search.finished",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Event sequence mismatch (-want +got):\n%s", diff)
	}

	for _, e := range f.reporter.getEvents() {
		if e.RunID != report.RunID {
			t.Errorf("Expected run ID %s on %s, got %s", report.RunID, e.Type, e.RunID)
		}
	}

	finished := f.reporter.ofType(EventTypeSearchFinished)[0]
	if finished.Result == nil || finished.Result.Kind != ResultMinimalCompatible {
		t.Errorf("Expected finished event to carry the result, got %+v", finished.Result)
	}
	started := f.reporter.ofType(EventTypeSearchStarted)[0]
	if started.Candidates != 4 {
		t.Errorf("Expected 4 candidates on start, got %d", started.Candidates)
	}
}

func TestFindWritesThroughSink(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))

	report, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(f.sink.entries) != report.Probes {
		t.Errorf("Expected %d persisted entries, got %d", report.Probes, len(f.sink.entries))
	}
	if diff := cmp.Diff(report.Result.Entries, sortedCopy(f.sink.entries)); diff != "" {
		t.Errorf("Persisted entries mismatch (-report +sink):\n%s", diff)
	}
}

func sortedCopy(entries []LedgerEntry) []LedgerEntry {
	out := append([]LedgerEntry{}, entries...)
	slices.SortFunc(out, func(a, b LedgerEntry) int { return version.Compare(a.Version, b.Version) })
	return out
}

func TestFindResume(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))

	opts := runOptions(StrategyBisect)
	opts.Resume = []LedgerEntry{
		{Version: version.New(1, 0, 0), Outcome: Incompatible("old")},
		{Version: version.New(1, 1, 0), Outcome: InfrastructureFailure("network")},
		{Version: version.New(1, 2, 0), Outcome: Compatible()},
	}

	report, err := f.engine.Find(context.Background(), opts)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if report.Result.Kind != ResultMinimalCompatible || !report.Result.Version.Equal(version.New(1, 2, 0)) {
		t.Fatalf("Expected minimal compatible 1.2.0, got %s %v", report.Result.Kind, report.Result.Version)
	}
	if report.Resumed != 2 {
		t.Errorf("Expected 2 resumed entries, got %d", report.Resumed)
	}
	if report.Probes != 1 {
		t.Errorf("Expected only 1.1.0 to be probed, got %d probes", report.Probes)
	}
	if got := f.checker.callsFor(version.New(1, 2, 0)); got != 0 {
		t.Errorf("Expected resumed version not to be checked, got %d calls", got)
	}
	if got := f.checker.callsFor(version.New(1, 1, 0)); got != 1 {
		t.Errorf("Expected unseeded infrastructure entry to be re-probed, got %d calls", got)
	}
	if len(f.reporter.ofType(EventTypeCacheHit)) != 1 {
		t.Errorf("Expected 1 cache hit event")
	}
	if len(report.Result.Entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(report.Result.Entries))
	}
}

func TestFindCatalogUnavailable(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))
	f.catalog.err = errors.New("connection refused")

	_, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassInfrastructure, Code: ErrCodeCatalogUnavailable}) {
		t.Errorf("Expected catalog unavailable error, got %v", err)
	}
	var catErr *CatalogError
	if !errors.As(err, &catErr) {
		t.Errorf("Expected wrapped CatalogError, got %v", err)
	}
}

func TestFindUnorderedCatalog(t *testing.T) {
	f := newFixture(t, 0, compatibleFrom(0))
	f.catalog.versions = []version.Version{version.New(1, 2, 0), version.New(1, 1, 0)}

	_, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if !IsProgramming(err) {
		t.Errorf("Expected programming error, got %v", err)
	}
}

func TestFindEmptyCatalog(t *testing.T) {
	for _, s := range []StrategyKind{StrategyBisect, StrategyLinear, StrategyExhaustive} {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture(t, 0, compatibleFrom(0))
			report, err := f.engine.Find(context.Background(), runOptions(s))
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if report.Result.Kind != ResultNoneCompatible {
				t.Errorf("Expected %s, got %s", ResultNoneCompatible, report.Result.Kind)
			}
			if f.checker.totalCalls() != 0 {
				t.Errorf("Expected no probes")
			}
		})
	}
}

func TestFindNarrowing(t *testing.T) {
	f := newFixture(t, 10, compatibleFrom(6))
	opts := runOptions(StrategyLinear)
	minV := version.New(1, 4, 0)
	opts.Narrowing = Narrowing{Min: &minV, IncludeAllPatches: true}

	report, err := f.engine.Find(context.Background(), opts)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(report.Candidates) != 6 {
		t.Errorf("Expected 6 candidates, got %d", len(report.Candidates))
	}
	if got := f.checker.totalCalls(); got != 3 {
		t.Errorf("Expected 3 probes from 1.4.0, got %d", got)
	}
}

func TestFindInfrastructureErrorIsFatalForBisect(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))
	f.provisioner.failures["1.2.0"] = -1

	_, err := f.engine.Find(context.Background(), runOptions(StrategyBisect))
	if !IsInfrastructure(err) {
		t.Fatalf("Expected infrastructure error, got %v", err)
	}

	finished := f.reporter.ofType(EventTypeSearchFinished)
	if len(finished) != 1 || finished[0].Result != nil {
		t.Errorf("Expected a failed search.finished event without result, got %+v", finished)
	}
}

func TestFindCancellation(t *testing.T) {
	f := newFixture(t, 8, compatibleFrom(3))
	f.checker.delay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.engine.Find(ctx, runOptions(StrategyExhaustive))
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsCancelled(err) {
		t.Errorf("Expected cancelled error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected outstanding checks to be terminated, took %s", elapsed)
	}
	if len(f.sink.entries) != 0 {
		t.Errorf("Expected no entries persisted for cancelled probes, got %d", len(f.sink.entries))
	}
}

func TestFindValidation(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))

	tests := []struct {
		name   string
		modify func(*RunOptions)
	}{
		{"unknown strategy", func(o *RunOptions) { o.Strategy = "guess" }},
		{"bad direction", func(o *RunOptions) { o.Direction = "up" }},
		{"negative workers", func(o *RunOptions) { o.Workers = -1 }},
		{"negative retries", func(o *RunOptions) { o.MaxRetries = -1 }},
		{"negative timeout", func(o *RunOptions) { o.Timeout = -time.Second }},
		{"empty command", func(o *RunOptions) { o.Command = CommandSpec{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := runOptions(StrategyBisect)
			tt.modify(&opts)
			_, err := f.engine.Find(context.Background(), opts)
			if !errors.Is(err, &EngineError{Class: ErrorClassProgramming, Code: ErrCodeValidation}) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		minor    uint64
		wantKind ResultKind
		found    bool
	}{
		{"compatible", 3, ResultVerified, true},
		{"incompatible", 1, ResultVerificationFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 4, compatibleFrom(2))
			v := version.New(1, tt.minor, 0)

			report, err := f.engine.Verify(context.Background(), runOptions(StrategyBisect), v)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if report.Result.Kind != tt.wantKind {
				t.Errorf("Expected %s, got %s", tt.wantKind, report.Result.Kind)
			}
			if report.Result.Found() != tt.found {
				t.Errorf("Expected Found()=%v", tt.found)
			}
			if !report.Result.Version.Equal(v) {
				t.Errorf("Expected version %s, got %s", v, report.Result.Version)
			}
			if tt.wantKind == ResultVerificationFailed && report.Result.Details == "" {
				t.Error("Expected diagnostic in details")
			}
			if len(report.Result.Entries) != 1 {
				t.Errorf("Expected 1 entry, got %d", len(report.Result.Entries))
			}
		})
	}
}

func TestVerifyInfrastructureError(t *testing.T) {
	f := newFixture(t, 4, compatibleFrom(2))
	v := version.New(1, 3, 0)
	f.checker.execErrs[v.String()] = &ExecutionError{Op: "start", Err: errors.New("permission denied")}

	_, err := f.engine.Verify(context.Background(), runOptions(StrategyBisect), v)
	if !IsInfrastructure(err) {
		t.Errorf("Expected infrastructure error, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("/src/a", []string{"cargo", "build"}, "")
	if a != Fingerprint("/src/a", []string{"cargo", "build"}, "") {
		t.Error("Expected stable fingerprint")
	}

	others := []string{
		Fingerprint("/src/b", []string{"cargo", "build"}, ""),
		Fingerprint("/src/a", []string{"cargo", "test"}, ""),
		Fingerprint("/src/a", []string{"cargo build"}, ""),
		Fingerprint("/src/a", []string{"cargo", "build"}, "x86_64-unknown-linux-gnu"),
	}
	for i, o := range others {
		if o == a {
			t.Errorf("Fingerprint %d collides with base", i)
		}
	}
}
