package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/version"
)

// EventType represents the type of a lifecycle event.
type EventType string

const (
	// EventTypeSearchStarted is emitted once the candidate set is fixed.
	EventTypeSearchStarted EventType = "search.started"

	// EventTypeSearchFinished is emitted with the final result.
	EventTypeSearchFinished EventType = "search.finished"

	// EventTypeTransition is emitted for every lifecycle state change of a version.
	EventTypeTransition EventType = "probe.transition"

	// EventTypeCacheHit is emitted when a probe is served from the ledger.
	EventTypeCacheHit EventType = "probe.cached"

	// EventTypeRetry is emitted before an infrastructure failure is retried.
	EventTypeRetry EventType = "probe.retry"
)

// LifecycleEvent is what the engine tells the reporting collaborator.
type LifecycleEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	// Version is set for probe events.
	Version *version.Version `json:"version,omitempty"`

	// From and To are set for transitions.
	From ProbeState `json:"from,omitempty"`
	To   ProbeState `json:"to,omitempty"`

	// Outcome is set when a version reaches a terminal state or is served from the ledger.
	Outcome *CheckOutcome `json:"outcome,omitempty"`

	// Attempt is the 1-based attempt number of a probe.
	Attempt int `json:"attempt,omitempty"`

	// Elapsed is the time spent in the state being left.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// Candidates is the candidate count on search.started.
	Candidates int `json:"candidates,omitempty"`

	// Result is set on search.finished.
	Result *Result `json:"result,omitempty"`

	Message string `json:"message"`
}

// emitter stamps and delivers events. Reporter panics are recovered so that reporting can
// never affect the search.
type emitter struct {
	runID    string
	reporter Reporter
}

func (e emitter) emit(event LifecycleEvent) {
	if e.reporter == nil {
		return
	}

	event.ID = uuid.New().String()
	event.RunID = e.runID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("run_id", e.runID).
				Str("event", string(event.Type)).
				Interface("panic", r).
				Msg("reporter panicked, event dropped")
		}
	}()
	e.reporter.OnEvent(event)
}

func (e emitter) transition(v version.Version, from, to ProbeState, attempt int, elapsed time.Duration, outcome *CheckOutcome) {
	e.emit(LifecycleEvent{
		Type:    EventTypeTransition,
		Version: &v,
		From:    from,
		To:      to,
		Attempt: attempt,
		Elapsed: elapsed,
		Outcome: outcome,
		Message: fmt.Sprintf("%s: %s -> %s", v, from, to),
	})
}

// MultiReporter fans events out to several reporters.
type MultiReporter []Reporter

// OnEvent delivers event to every non-nil reporter in order.
func (m MultiReporter) OnEvent(event LifecycleEvent) {
	for _, r := range m {
		if r != nil {
			r.OnEvent(event)
		}
	}
}
