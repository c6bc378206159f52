package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/msrv/pkg/version"
)

// ErrorClass represents the classification of an error for propagation decisions.
type ErrorClass string

const (
	// ErrorClassCompatibility indicates the project does not build or test under a toolchain.
	// It is the signal the search runs on and is never surfaced to the user as a failure.
	ErrorClassCompatibility ErrorClass = "compatibility"

	// ErrorClassInfrastructure indicates provisioning, execution or catalog problems that are
	// unrelated to the project. Aborts the current probe; may be retried with backoff.
	ErrorClassInfrastructure ErrorClass = "infrastructure"

	// ErrorClassConsistency indicates the monotonicity assumption was contradicted.
	ErrorClassConsistency ErrorClass = "consistency"

	// ErrorClassProgramming indicates a broken invariant, e.g. a ledger double write.
	// Always fatal.
	ErrorClassProgramming ErrorClass = "programming"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Version is the toolchain version involved, if any.
	Version string `json:"version,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Version != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (version=%s, operation=%s)", msg, e.Version, e.Operation)
	} else if e.Version != "" {
		msg = fmt.Sprintf("%s (version=%s)", msg, e.Version)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewInfrastructureError creates a new infrastructure error.
func NewInfrastructureError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInfrastructure,
		Message: message,
		Err:     err,
	}
}

// NewConsistencyError creates a new consistency error.
func NewConsistencyError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConsistency,
		Message: message,
		Err:     err,
	}
}

// NewProgrammingError creates a new programming invariant error.
func NewProgrammingError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassProgramming,
		Message: message,
		Err:     err,
	}
}

// WithVersion adds version context to an error.
func (e *EngineError) WithVersion(v version.Version) *EngineError {
	e.Version = v.String()
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsInfrastructure returns true if the error is classified as infrastructure.
func IsInfrastructure(err error) bool {
	return hasClass(err, ErrorClassInfrastructure)
}

// IsConsistency returns true if the error is classified as a consistency violation.
func IsConsistency(err error) bool {
	return hasClass(err, ErrorClassConsistency)
}

// IsProgramming returns true if the error is a programming invariant violation.
func IsProgramming(err error) bool {
	return hasClass(err, ErrorClassProgramming)
}

// IsCancelled returns true if the error reports a cancelled run.
func IsCancelled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == ErrCodeCancelled
	}
	return false
}

// IsRetryable returns true if a higher layer may retry the failed operation.
// Infrastructure errors are retryable unless the run itself was cancelled.
func IsRetryable(err error) bool {
	return IsInfrastructure(err) && !IsCancelled(err)
}

// Common error codes.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeCatalogUnavailable  = "CATALOG_UNAVAILABLE"
	ErrCodeProvisionFailed     = "PROVISION_FAILED"
	ErrCodeExecutionFailed     = "EXECUTION_FAILED"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeLedgerOverwrite     = "LEDGER_OVERWRITE"
	ErrCodeUnorderedCandidates = "UNORDERED_CANDIDATES"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeNotMonotonic        = "NOT_MONOTONIC"
)

// ProvisionError is returned by a Provisioner when a toolchain cannot be made available.
type ProvisionError struct {
	Version version.Version
	Err     error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Version, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// ExecutionError is returned by a Checker when the check command could not be executed at
// all. It is distinct from a failing check, which is reported as a Fail verdict.
type ExecutionError struct {
	// Op is the operation that failed (e.g. "start", "wait", "connect").
	Op string

	// Err is the underlying error.
	Err error

	// Timeout is set when the command exceeded its deadline.
	Timeout bool
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return e.Op + ": timed out: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// CatalogError is returned by a Catalog when the release list cannot be reached or parsed.
type CatalogError struct {
	Source string
	Err    error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog %s unavailable: %v", e.Source, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

func cancelledError(err error) *EngineError {
	return NewInfrastructureError("run cancelled", err).WithCode(ErrCodeCancelled)
}
