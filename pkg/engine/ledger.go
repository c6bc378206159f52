package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/openfroyo/msrv/pkg/version"
)

// Ledger is the authoritative record of outcomes observed in a run. It holds at most one
// entry per version and entries are never overwritten. Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]LedgerEntry
	now     func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[string]LedgerEntry),
		now:     time.Now,
	}
}

// Record stores the outcome for v. Recording a version twice is a programming invariant
// violation and leaves the existing entry untouched.
func (l *Ledger) Record(v version.Version, outcome CheckOutcome) (LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := v.String()
	if existing, ok := l.entries[key]; ok {
		return existing, NewProgrammingError("ledger entry already recorded", nil).
			WithCode(ErrCodeLedgerOverwrite).
			WithVersion(v).
			WithDetail("existing", string(existing.Outcome.Kind)).
			WithDetail("attempted", string(outcome.Kind))
	}

	entry := LedgerEntry{
		Version:   v,
		Outcome:   outcome,
		Timestamp: l.now(),
	}
	l.entries[key] = entry
	return entry, nil
}

// Seed pre-populates the ledger with entries from an earlier run. Only compatible and
// incompatible entries are accepted; infrastructure errors say nothing about the project and
// are skipped. Seeded entries are marked Resumed. Returns the number of entries seeded.
func (l *Ledger) Seed(entries []LedgerEntry) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seeded := 0
	for _, e := range entries {
		if e.Outcome.IsInfrastructureError() {
			continue
		}
		key := e.Version.String()
		if _, ok := l.entries[key]; ok {
			return seeded, NewProgrammingError("duplicate resume entry", nil).
				WithCode(ErrCodeLedgerOverwrite).
				WithVersion(e.Version)
		}
		e.Resumed = true
		if e.Timestamp.IsZero() {
			e.Timestamp = l.now()
		}
		l.entries[key] = e
		seeded++
	}
	return seeded, nil
}

// Lookup returns the recorded outcome for v.
func (l *Ledger) Lookup(v version.Version) (CheckOutcome, bool) {
	e, ok := l.Entry(v)
	return e.Outcome, ok
}

// Entry returns the full recorded entry for v.
func (l *Ledger) Entry(v version.Version) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[v.String()]
	return e, ok
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns all entries sorted by version.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.RLock()
	out := make([]LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b LedgerEntry) int { return version.Compare(a.Version, b.Version) })
	return out
}

// EntriesFor returns the entries of the candidates that have one, in catalog order.
func (l *Ledger) EntriesFor(candidates CandidateSet) []LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LedgerEntry, 0, candidates.Len())
	for i := 0; i < candidates.Len(); i++ {
		if e, ok := l.entries[candidates.At(i).String()]; ok {
			out = append(out, e)
		}
	}
	return out
}
