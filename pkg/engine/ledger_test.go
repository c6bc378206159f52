package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/msrv/pkg/version"
)

func TestLedgerRecordIsWriteOnce(t *testing.T) {
	l := NewLedger()
	v := version.New(1, 56, 0)

	if _, err := l.Record(v, Incompatible("E0658")); err != nil {
		t.Fatalf("First record failed: %v", err)
	}

	existing, err := l.Record(v, Compatible())
	if err == nil {
		t.Fatal("Expected error on second record")
	}
	if !IsProgramming(err) {
		t.Errorf("Expected programming error, got %v", err)
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassProgramming, Code: ErrCodeLedgerOverwrite}) {
		t.Errorf("Expected ledger overwrite code, got %v", err)
	}
	if !existing.Outcome.IsIncompatible() {
		t.Errorf("Expected existing entry to be returned, got %s", existing.Outcome.Kind)
	}

	outcome, ok := l.Lookup(v)
	if !ok || !outcome.IsIncompatible() {
		t.Errorf("Expected original entry to survive, got %s (found=%v)", outcome.Kind, ok)
	}
}

func TestLedgerLookupMissing(t *testing.T) {
	l := NewLedger()
	if _, ok := l.Lookup(version.New(1, 0, 0)); ok {
		t.Error("Expected lookup miss on empty ledger")
	}
	if l.Len() != 0 {
		t.Errorf("Expected empty ledger, got %d", l.Len())
	}
}

func TestLedgerSeed(t *testing.T) {
	l := NewLedger()
	n, err := l.Seed([]LedgerEntry{
		{Version: version.New(1, 0, 0), Outcome: Incompatible("old")},
		{Version: version.New(1, 1, 0), Outcome: InfrastructureFailure("network")},
		{Version: version.New(1, 2, 0), Outcome: Compatible()},
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 seeded entries, got %d", n)
	}
	if _, ok := l.Lookup(version.New(1, 1, 0)); ok {
		t.Error("Infrastructure errors must not be seeded")
	}

	entry, ok := l.Entry(version.New(1, 2, 0))
	if !ok {
		t.Fatal("Expected seeded entry")
	}
	if !entry.Resumed {
		t.Error("Expected seeded entry to be marked resumed")
	}
	if entry.Timestamp.IsZero() {
		t.Error("Expected seeded entry to get a timestamp")
	}

	if _, err := l.Record(version.New(1, 2, 0), Compatible()); !IsProgramming(err) {
		t.Errorf("Expected seeded entry to be write-once, got %v", err)
	}
}

func TestLedgerSeedDuplicate(t *testing.T) {
	l := NewLedger()
	_, err := l.Seed([]LedgerEntry{
		{Version: version.New(1, 0, 0), Outcome: Compatible()},
		{Version: version.New(1, 0, 0), Outcome: Incompatible("")},
	})
	if !IsProgramming(err) {
		t.Errorf("Expected programming error for duplicate seed, got %v", err)
	}
}

func TestLedgerEntriesOrder(t *testing.T) {
	l := NewLedger()
	for _, s := range []string{"1.3.0", "1.0.0", "1.2.0", "1.10.0"} {
		if _, err := l.Record(version.MustParse(s), Compatible()); err != nil {
			t.Fatalf("Record %s failed: %v", s, err)
		}
	}

	var got []string
	for _, e := range l.Entries() {
		got = append(got, e.Version.String())
	}
	want := []string{"1.0.0", "1.2.0", "1.3.0", "1.10.0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entries order mismatch (-want +got):\n%s", diff)
	}

	cs := candidateSet(t, catalogOf(4))
	got = got[:0]
	for _, e := range l.EntriesFor(cs) {
		got = append(got, e.Version.String())
	}
	want = []string{"1.0.0", "1.2.0", "1.3.0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EntriesFor mismatch (-want +got):\n%s", diff)
	}
}

func TestLedgerConcurrentRecords(t *testing.T) {
	l := NewLedger()
	v := version.New(1, 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Record(v, Compatible()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("Expected exactly one successful record, got %d", successes)
	}
}
