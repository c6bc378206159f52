package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/msrv/pkg/version"
)

// catalogOf returns n versions 1.0.0, 1.1.0, ... in ascending order.
func catalogOf(n int) []version.Version {
	vs := make([]version.Version, n)
	for i := range vs {
		vs[i] = version.New(1, uint64(i), 0)
	}
	return vs
}

func candidateSet(t *testing.T, vs []version.Version) CandidateSet {
	t.Helper()
	cs, err := NewCandidateSet(vs)
	if err != nil {
		t.Fatalf("NewCandidateSet failed: %v", err)
	}
	return cs
}

// compatibleFrom returns a predicate that is compatible for every minor >= boundary.
func compatibleFrom(boundary int) func(version.Version) bool {
	return func(v version.Version) bool {
		return v.Minor >= uint64(boundary)
	}
}

// compatibleAt returns a predicate that is compatible exactly for the given minors.
func compatibleAt(minors ...int) func(version.Version) bool {
	set := make(map[uint64]bool, len(minors))
	for _, m := range minors {
		set[uint64(m)] = true
	}
	return func(v version.Version) bool {
		return set[v.Minor]
	}
}

// Mock catalog for testing
type mockCatalog struct {
	versions []version.Version
	err      error
}

func (m *mockCatalog) ListCandidates(ctx context.Context) ([]version.Version, error) {
	if m.err != nil {
		return nil, &CatalogError{Source: "mock", Err: m.err}
	}
	return m.versions, nil
}

// Mock provisioner for testing
type mockProvisioner struct {
	mu sync.Mutex

	// failures is the number of calls that fail for a version before it succeeds.
	// A negative value fails forever.
	failures map[string]int
	calls    map[string]int
}

func newMockProvisioner() *mockProvisioner {
	return &mockProvisioner{
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (m *mockProvisioner) EnsureAvailable(ctx context.Context, v version.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := v.String()
	m.calls[key]++
	if n := m.failures[key]; n != 0 {
		if n > 0 {
			m.failures[key] = n - 1
		}
		return &ProvisionError{Version: v, Err: errors.New("download failed")}
	}
	return nil
}

func (m *mockProvisioner) callsFor(v version.Version) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[v.String()]
}

// Mock checker for testing
type mockChecker struct {
	mu sync.Mutex

	compatible func(version.Version) bool
	execErrs   map[string]error
	delay      time.Duration
	delays     map[string]time.Duration

	calls       map[string]int
	order       []version.Version
	inflight    int
	maxInflight int
}

func newMockChecker(compatible func(version.Version) bool) *mockChecker {
	return &mockChecker{
		compatible: compatible,
		execErrs:   make(map[string]error),
		delays:     make(map[string]time.Duration),
		calls:      make(map[string]int),
	}
}

func (m *mockChecker) RunCheck(ctx context.Context, v version.Version, projectPath string, spec CommandSpec) (CheckVerdict, error) {
	m.mu.Lock()
	key := v.String()
	m.calls[key]++
	m.order = append(m.order, v)
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	delay := m.delay
	if d, ok := m.delays[key]; ok {
		delay = d
	}
	execErr := m.execErrs[key]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return CheckVerdict{}, &ExecutionError{
				Op:      "wait",
				Err:     ctx.Err(),
				Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
			}
		}
	}

	if execErr != nil {
		return CheckVerdict{}, execErr
	}
	if m.compatible(v) {
		return Pass(), nil
	}
	return Fail(fmt.Sprintf("error: package requires a newer toolchain than %s", v)), nil
}

func (m *mockChecker) callsFor(v version.Version) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[v.String()]
}

func (m *mockChecker) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

func (m *mockChecker) probeOrder() []version.Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]version.Version{}, m.order...)
}

// Mock reporter for testing
type mockReporter struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (m *mockReporter) OnEvent(event LifecycleEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockReporter) getEvents() []LifecycleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LifecycleEvent{}, m.events...)
}

func (m *mockReporter) ofType(t EventType) []LifecycleEvent {
	var out []LifecycleEvent
	for _, e := range m.getEvents() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Mock sink for testing
type mockSink struct {
	mu      sync.Mutex
	entries []LedgerEntry
	err     error
}

func (m *mockSink) SaveEntry(ctx context.Context, runID string, entry LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

type fixture struct {
	catalog     *mockCatalog
	provisioner *mockProvisioner
	checker     *mockChecker
	reporter    *mockReporter
	sink        *mockSink
	engine      *Engine
}

func newFixture(t *testing.T, n int, compatible func(version.Version) bool) *fixture {
	t.Helper()

	f := &fixture{
		catalog:     &mockCatalog{versions: catalogOf(n)},
		provisioner: newMockProvisioner(),
		checker:     newMockChecker(compatible),
		reporter:    &mockReporter{},
		sink:        &mockSink{},
	}

	eng, err := New(Dependencies{
		Catalog:     f.catalog,
		Provisioner: f.provisioner,
		Checker:     f.checker,
		Reporter:    f.reporter,
		Sink:        f.sink,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.engine = eng
	return f
}

func runOptions(strategy StrategyKind) RunOptions {
	return RunOptions{
		Strategy:       strategy,
		Workers:        2,
		ProjectPath:    "/src/project",
		Command:        CommandSpec{Argv: []string{"cargo", "check"}},
		Narrowing:      Narrowing{IncludeAllPatches: true},
		RetryBaseDelay: time.Millisecond,
	}
}

func versionPtr(v version.Version) *version.Version {
	return &v
}
