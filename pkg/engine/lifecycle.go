package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/msrv/pkg/version"
)

const instrumentationName = "github.com/openfroyo/msrv/pkg/engine"

// MachineConfig configures how a single version is probed.
type MachineConfig struct {
	// ProjectPath is passed to the checker unchanged.
	ProjectPath string

	// Command is the check command.
	Command CommandSpec

	// Timeout bounds one check execution. Zero means no timeout. A non-zero Command.Timeout
	// takes precedence.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after an infrastructure failure.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay. Defaults to one second.
	RetryBaseDelay time.Duration
}

// Machine drives versions through the probe lifecycle and records their outcomes. Its Probe
// method is the CheckFunc handed to strategies.
type Machine struct {
	provisioner Provisioner
	checker     Checker
	ledger      *Ledger
	sink        LedgerSink
	events      emitter
	config      MachineConfig
	tracer      trace.Tracer

	flights    singleflight.Group
	executions atomic.Int64
}

// NewMachine creates a lifecycle machine that records into ledger.
func NewMachine(
	provisioner Provisioner,
	checker Checker,
	ledger *Ledger,
	config MachineConfig,
) *Machine {
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = time.Second
	}
	return &Machine{
		provisioner: provisioner,
		checker:     checker,
		ledger:      ledger,
		config:      config,
		tracer:      otel.Tracer(instrumentationName),
	}
}

// WithReporter sets the reporter and run ID stamped on emitted events.
func (m *Machine) WithReporter(runID string, reporter Reporter) *Machine {
	m.events = emitter{runID: runID, reporter: reporter}
	return m
}

// WithSink sets the write-through sink for recorded entries.
func (m *Machine) WithSink(sink LedgerSink) *Machine {
	m.sink = sink
	return m
}

// Executions returns how many versions were actually provisioned and checked, not counting
// outcomes served from the ledger.
func (m *Machine) Executions() int {
	return int(m.executions.Load())
}

// Probe returns the outcome for v, running the lifecycle at most once per version. Concurrent
// calls for the same version share one execution. The error is non-nil only when the run was
// cancelled or an invariant was broken.
func (m *Machine) Probe(ctx context.Context, v version.Version) (CheckOutcome, error) {
	if outcome, ok := m.cached(v); ok {
		return outcome, nil
	}

	res, err, _ := m.flights.Do(v.String(), func() (interface{}, error) {
		// Another flight may have recorded v between the lookup and this call.
		if outcome, ok := m.cached(v); ok {
			return outcome, nil
		}
		return m.run(ctx, v)
	})
	if err != nil {
		return CheckOutcome{}, err
	}
	return res.(CheckOutcome), nil
}

func (m *Machine) cached(v version.Version) (CheckOutcome, bool) {
	entry, ok := m.ledger.Entry(v)
	if !ok {
		return CheckOutcome{}, false
	}

	outcome := entry.Outcome
	msg := fmt.Sprintf("%s: %s (cached)", v, outcome.Kind)
	if entry.Resumed {
		msg = fmt.Sprintf("%s: %s (resumed)", v, outcome.Kind)
	}
	m.events.emit(LifecycleEvent{
		Type:    EventTypeCacheHit,
		Version: &v,
		To:      outcome.State(),
		Outcome: &outcome,
		Message: msg,
	})
	return outcome, true
}

// run executes the lifecycle for v and records the terminal outcome.
func (m *Machine) run(ctx context.Context, v version.Version) (CheckOutcome, error) {
	ctx, span := m.tracer.Start(ctx, "msrv.probe",
		trace.WithAttributes(attribute.String("msrv.version", v.String())))
	defer span.End()

	m.executions.Add(1)
	logger := log.With().Str("version", v.String()).Logger()

	p := &probe{machine: m, version: v, state: ProbeStatePending, entered: time.Now()}

	var outcome CheckOutcome
	for attempt := 1; ; attempt++ {
		p.attempt = attempt
		if err := ctx.Err(); err != nil {
			return m.abort(span, v, err)
		}

		if err := p.move(ProbeStateProvisioning, nil); err != nil {
			return CheckOutcome{}, err
		}

		var err error
		outcome, err = p.execute(ctx)
		if err != nil {
			return CheckOutcome{}, err
		}
		if ctx.Err() != nil {
			return m.abort(span, v, ctx.Err())
		}

		if !outcome.IsInfrastructureError() || attempt > m.config.MaxRetries {
			break
		}

		delay := m.calculateBackoff(attempt)
		logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("reason", outcome.Reason).
			Msg("Retrying probe after infrastructure failure")

		m.events.emit(LifecycleEvent{
			Type:    EventTypeRetry,
			Version: &v,
			From:    p.state,
			To:      ProbeStateProvisioning,
			Attempt: attempt,
			Outcome: &outcome,
			Message: fmt.Sprintf("Retrying %s after failure (attempt %d/%d): %s",
				v, attempt+1, m.config.MaxRetries+1, outcome.Reason),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return m.abort(span, v, ctx.Err())
		}
	}

	if err := p.move(outcome.State(), &outcome); err != nil {
		return CheckOutcome{}, err
	}

	entry, err := m.ledger.Record(v, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger overwrite")
		return CheckOutcome{}, err
	}
	m.persist(ctx, entry)

	span.SetAttributes(
		attribute.String("msrv.outcome", string(outcome.Kind)),
		attribute.Int("msrv.attempts", p.attempt),
	)
	if outcome.IsInfrastructureError() {
		span.SetStatus(codes.Error, outcome.Reason)
	}

	logger.Debug().
		Str("outcome", string(outcome.Kind)).
		Int("attempts", p.attempt).
		Msg("Probe finished")

	return outcome, nil
}

func (m *Machine) abort(span trace.Span, v version.Version, err error) (CheckOutcome, error) {
	span.SetStatus(codes.Error, "cancelled")
	log.Debug().Str("version", v.String()).Msg("Probe cancelled")
	return CheckOutcome{}, cancelledError(err).WithVersion(v).WithOperation("probe")
}

// persist writes entry through to the sink. Failures never affect the search.
func (m *Machine) persist(ctx context.Context, entry LedgerEntry) {
	if m.sink == nil {
		return
	}
	if err := m.sink.SaveEntry(ctx, m.events.runID, entry); err != nil {
		log.Warn().
			Err(err).
			Str("run_id", m.events.runID).
			Str("version", entry.Version.String()).
			Msg("Failed to persist ledger entry")
	}
}

// calculateBackoff returns base * 2^(attempt-1), capped at one minute, plus a random jitter
// of up to a quarter of that delay.
func (m *Machine) calculateBackoff(attempt int) time.Duration {
	delay := m.config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > time.Minute {
		delay = time.Minute
	}

	if spread := int64(delay / 4); spread > 0 {
		delay += time.Duration(rand.Int64N(spread))
	}
	return delay
}

func (m *Machine) checkTimeout() time.Duration {
	if m.config.Command.Timeout > 0 {
		return m.config.Command.Timeout
	}
	return m.config.Timeout
}

// probe is the working state of one version while its lifecycle runs.
type probe struct {
	machine *Machine
	version version.Version
	state   ProbeState
	entered time.Time
	attempt int
}

// move performs a lifecycle transition and reports it.
func (p *probe) move(next ProbeState, outcome *CheckOutcome) error {
	if !p.state.CanTransition(next) {
		return NewProgrammingError(
			fmt.Sprintf("illegal probe transition %s -> %s", p.state, next), nil).
			WithCode(ErrCodeInvalidTransition).
			WithVersion(p.version)
	}

	now := time.Now()
	p.machine.events.transition(p.version, p.state, next, p.attempt, now.Sub(p.entered), outcome)
	p.state = next
	p.entered = now
	return nil
}

// execute provisions the toolchain and runs the check once. Collaborator failures become
// infrastructure outcomes; only invariant violations are returned as errors.
func (p *probe) execute(ctx context.Context) (CheckOutcome, error) {
	m := p.machine

	if err := m.provisioner.EnsureAvailable(ctx, p.version); err != nil {
		return InfrastructureFailure(fmt.Sprintf("provision: %v", err)), nil
	}

	if err := p.move(ProbeStateChecking, nil); err != nil {
		return CheckOutcome{}, err
	}

	checkCtx := ctx
	timeout := m.checkTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	verdict, err := m.checker.RunCheck(checkCtx, p.version, m.config.ProjectPath, m.config.Command)

	// A check that ran past its deadline says nothing about compatibility, whatever it
	// reported.
	if ctx.Err() == nil && errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
		return InfrastructureFailure(fmt.Sprintf("check timed out after %s", timeout)), nil
	}

	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Timeout {
			return InfrastructureFailure(fmt.Sprintf("check timed out: %v", execErr.Err)), nil
		}
		return InfrastructureFailure(fmt.Sprintf("execute: %v", err)), nil
	}

	switch verdict.Kind {
	case VerdictPass:
		return Compatible(), nil
	case VerdictFail:
		return Incompatible(verdict.Diagnostic), nil
	default:
		return InfrastructureFailure(fmt.Sprintf("checker returned unknown verdict %q", verdict.Kind)), nil
	}
}
