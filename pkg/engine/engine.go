package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/msrv/pkg/version"
)

// Dependencies are the collaborators of an Engine. Catalog, Provisioner and Checker are
// required.
type Dependencies struct {
	Catalog     Catalog
	Provisioner Provisioner
	Checker     Checker

	// Reporter receives lifecycle events. Optional.
	Reporter Reporter

	// Sink persists ledger entries as they are recorded. Optional.
	Sink LedgerSink
}

// RunOptions configures one run.
type RunOptions struct {
	// RunID identifies the run in events and persisted entries. Generated when empty.
	RunID string

	Strategy       StrategyKind
	Direction      Direction
	Workers        int
	VerifyBoundary bool

	// ProjectPath and Command are handed to the checker.
	ProjectPath string
	Command     CommandSpec

	// Timeout bounds each check execution. Zero disables it.
	Timeout time.Duration

	// MaxRetries re-attempts infrastructure failures with exponential backoff.
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Narrowing filters the catalog before the search starts.
	Narrowing Narrowing

	// Resume pre-seeds the ledger with entries from an earlier run.
	Resume []LedgerEntry
}

// Validate checks the options for values no run can use.
func (o RunOptions) Validate() error {
	if o.Strategy != "" {
		if err := o.Strategy.Validate(); err != nil {
			return NewProgrammingError("invalid run options", err).WithCode(ErrCodeValidation)
		}
	}
	if o.Direction != "" {
		if err := o.Direction.Validate(); err != nil {
			return NewProgrammingError("invalid run options", err).WithCode(ErrCodeValidation)
		}
	}
	if o.Workers < 0 {
		return NewProgrammingError("invalid run options", fmt.Errorf("workers must not be negative: %d", o.Workers)).
			WithCode(ErrCodeValidation)
	}
	if o.MaxRetries < 0 {
		return NewProgrammingError("invalid run options", fmt.Errorf("retries must not be negative: %d", o.MaxRetries)).
			WithCode(ErrCodeValidation)
	}
	if o.Timeout < 0 {
		return NewProgrammingError("invalid run options", fmt.Errorf("timeout must not be negative: %s", o.Timeout)).
			WithCode(ErrCodeValidation)
	}
	if len(o.Command.Argv) == 0 {
		return NewProgrammingError("invalid run options", errors.New("check command is empty")).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// Report is the outcome of a run together with its bookkeeping.
type Report struct {
	RunID      string            `json:"run_id"`
	Result     Result            `json:"result"`
	Candidates []version.Version `json:"candidates"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   time.Duration     `json:"duration"`

	// Probes is the number of versions actually provisioned and checked.
	Probes int `json:"probes"`

	// Resumed is the number of ledger entries seeded from an earlier run.
	Resumed int `json:"resumed"`
}

// Engine runs searches. An Engine holds no per-run state and may run several searches
// concurrently.
type Engine struct {
	deps Dependencies
}

// New creates an engine.
func New(deps Dependencies) (*Engine, error) {
	switch {
	case deps.Catalog == nil:
		return nil, NewProgrammingError("catalog is required", nil).WithCode(ErrCodeValidation)
	case deps.Provisioner == nil:
		return nil, NewProgrammingError("provisioner is required", nil).WithCode(ErrCodeValidation)
	case deps.Checker == nil:
		return nil, NewProgrammingError("checker is required", nil).WithCode(ErrCodeValidation)
	}
	return &Engine{deps: deps}, nil
}

// Candidates fetches the catalog and applies n.
func (e *Engine) Candidates(ctx context.Context, n Narrowing) (CandidateSet, error) {
	vs, err := e.deps.Catalog.ListCandidates(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return CandidateSet{}, cancelledError(ctx.Err()).WithOperation("list candidates")
		}
		return CandidateSet{}, NewInfrastructureError("catalog unavailable", err).
			WithCode(ErrCodeCatalogUnavailable).
			WithOperation("list candidates")
	}

	all, err := NewCandidateSet(vs)
	if err != nil {
		return CandidateSet{}, err
	}
	return all.Narrow(n), nil
}

// Find searches the catalog for the oldest compatible version.
func (e *Engine) Find(ctx context.Context, opts RunOptions) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	strategy, err := NewStrategy(StrategyOptions{
		Kind:           opts.Strategy,
		Direction:      opts.Direction,
		Workers:        opts.Workers,
		VerifyBoundary: opts.VerifyBoundary,
	})
	if err != nil {
		return nil, err
	}

	r, err := e.begin(ctx, opts, "msrv.find")
	if err != nil {
		return nil, err
	}
	defer r.span.End()
	r.span.SetAttributes(attribute.String("msrv.strategy", strategy.Name()))

	candidates, err := e.Candidates(r.ctx, opts.Narrowing)
	if err != nil {
		return nil, r.fail(err)
	}
	r.report.Candidates = candidates.Versions()

	r.events.emit(LifecycleEvent{
		Type:       EventTypeSearchStarted,
		Candidates: candidates.Len(),
		Message:    fmt.Sprintf("Searching %d candidates with %s", candidates.Len(), strategy.Name()),
	})

	log.Debug().
		Str("run_id", r.report.RunID).
		Str("strategy", strategy.Name()).
		Int("candidates", candidates.Len()).
		Int("resumed", r.report.Resumed).
		Msg("Search started")

	result, err := strategy.Search(r.ctx, candidates, r.machine.Probe)
	if err != nil {
		return nil, r.fail(err)
	}
	result.Strategy = strategy.Name()
	result.Entries = r.ledger.EntriesFor(candidates)

	return r.finish(result), nil
}

// Verify checks a single declared version.
func (e *Engine) Verify(ctx context.Context, opts RunOptions, v version.Version) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r, err := e.begin(ctx, opts, "msrv.verify")
	if err != nil {
		return nil, err
	}
	defer r.span.End()
	r.span.SetAttributes(attribute.String("msrv.version", v.String()))

	r.report.Candidates = []version.Version{v}
	r.events.emit(LifecycleEvent{
		Type:       EventTypeSearchStarted,
		Version:    &v,
		Candidates: 1,
		Message:    fmt.Sprintf("Verifying %s", v),
	})

	outcome, err := r.machine.Probe(r.ctx, v)
	if err != nil {
		return nil, r.fail(err)
	}

	result := Result{Version: &v, Strategy: "verify"}
	switch {
	case outcome.IsCompatible():
		result.Kind = ResultVerified
	case outcome.IsIncompatible():
		result.Kind = ResultVerificationFailed
		result.Details = outcome.Diagnostic
	default:
		return nil, r.fail(infrastructureAbort(v, "verify", outcome))
	}
	if entry, ok := r.ledger.Entry(v); ok {
		result.Entries = []LedgerEntry{entry}
	}

	return r.finish(result), nil
}

// run is the state of one Find or Verify call.
type run struct {
	ctx     context.Context
	span    trace.Span
	events  emitter
	ledger  *Ledger
	machine *Machine
	report  *Report
}

func (e *Engine) begin(ctx context.Context, opts RunOptions, spanName string) (*run, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	ledger := NewLedger()
	resumed, err := ledger.Seed(opts.Resume)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, spanName)
	span.SetAttributes(attribute.String("msrv.run_id", runID))

	events := emitter{runID: runID, reporter: e.deps.Reporter}
	machine := NewMachine(e.deps.Provisioner, e.deps.Checker, ledger, MachineConfig{
		ProjectPath:    opts.ProjectPath,
		Command:        opts.Command,
		Timeout:        opts.Timeout,
		MaxRetries:     opts.MaxRetries,
		RetryBaseDelay: opts.RetryBaseDelay,
	}).WithReporter(runID, e.deps.Reporter).WithSink(e.deps.Sink)

	return &run{
		ctx:     ctx,
		span:    span,
		events:  events,
		ledger:  ledger,
		machine: machine,
		report: &Report{
			RunID:     runID,
			StartedAt: time.Now(),
			Resumed:   resumed,
		},
	}, nil
}

func (r *run) finish(result Result) *Report {
	r.report.Result = result
	r.report.FinishedAt = time.Now()
	r.report.Duration = r.report.FinishedAt.Sub(r.report.StartedAt)
	r.report.Probes = r.machine.Executions()

	r.span.SetAttributes(
		attribute.String("msrv.result", string(result.Kind)),
		attribute.Int("msrv.probes", r.report.Probes),
	)

	r.events.emit(LifecycleEvent{
		Type:    EventTypeSearchFinished,
		Version: result.Version,
		Result:  &result,
		Elapsed: r.report.Duration,
		Message: describeResult(result),
	})

	log.Debug().
		Str("run_id", r.report.RunID).
		Str("result", string(result.Kind)).
		Int("probes", r.report.Probes).
		Dur("duration", r.report.Duration).
		Msg("Search finished")

	return r.report
}

// fail normalizes a run error and reports it.
func (r *run) fail(err error) error {
	if r.ctx.Err() != nil && !IsCancelled(err) {
		err = cancelledError(r.ctx.Err())
	}

	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.events.emit(LifecycleEvent{
		Type:    EventTypeSearchFinished,
		Elapsed: time.Since(r.report.StartedAt),
		Message: "Run failed: " + err.Error(),
	})
	return err
}

func describeResult(r Result) string {
	switch r.Kind {
	case ResultMinimalCompatible:
		return fmt.Sprintf("Minimal compatible version is %s", r.Version)
	case ResultAllCompatible:
		return fmt.Sprintf("Every candidate is compatible, down to %s", r.Version)
	case ResultNoneCompatible:
		return "No candidate is compatible"
	case ResultInconsistent:
		return "Inconsistent: " + r.Details
	case ResultCompatibilityMap:
		if r.Version == nil {
			return "Compatibility map complete, no compatible version"
		}
		return fmt.Sprintf("Compatibility map complete, oldest compatible version is %s", r.Version)
	case ResultVerified:
		return fmt.Sprintf("%s is compatible", r.Version)
	case ResultVerificationFailed:
		return fmt.Sprintf("%s is not compatible", r.Version)
	default:
		return string(r.Kind)
	}
}

// Fingerprint identifies the inputs that make ledger entries reusable across runs.
func Fingerprint(projectPath string, command []string, target string) string {
	h := sha256.New()
	h.Write([]byte(projectPath))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(command, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(target))
	return hex.EncodeToString(h.Sum(nil))
}
