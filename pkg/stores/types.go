package stores

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// RunMode distinguishes searches from single-version verification.
type RunMode string

const (
	RunModeFind   RunMode = "find"
	RunModeVerify RunMode = "verify"
)

// Run is one recorded find or verify invocation.
type Run struct {
	ID string `json:"id"`

	// Fingerprint groups runs whose ledger entries are interchangeable.
	Fingerprint string    `json:"fingerprint"`
	Mode        RunMode   `json:"mode"`
	ProjectPath string    `json:"project_path"`
	Command     []string  `json:"command"` // stored as a JSON array
	Target      string    `json:"target,omitempty"`
	Strategy    string    `json:"strategy,omitempty"`
	Status      RunStatus `json:"status"`

	ResultKind    string `json:"result_kind,omitempty"`
	ResultVersion string `json:"result_version,omitempty"`
	Details       string `json:"details,omitempty"`
	Error         string `json:"error,omitempty"`

	Candidates int `json:"candidates"`
	Probes     int `json:"probes"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RunCompletion is what CompleteRun records once a run has finished.
type RunCompletion struct {
	Status        RunStatus
	Strategy      string
	ResultKind    string
	ResultVersion string
	Details       string
	Error         string
	Candidates    int
	Probes        int
}

// ListRunsOptions filters ListRuns. Zero values match everything.
type ListRunsOptions struct {
	Fingerprint string
	Limit       int
	Offset      int
}

// Event is a persisted lifecycle event.
type Event struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Version   string    `json:"version,omitempty"`
	State     string    `json:"state,omitempty"`
	Message   string    `json:"message"`
	Payload   string    `json:"payload"` // JSON encoded engine.LifecycleEvent
	Timestamp time.Time `json:"timestamp"`
}
