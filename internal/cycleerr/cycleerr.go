// Package cycleerr defines the error taxonomy for a rebalancing cycle.
// Every failure surfaced by the pipeline is categorized so the worker can
// decide whether to retry, wait for the next poll, or halt for review.
package cycleerr

import (
	"errors"
	"fmt"
)

// Kind represents the category of a cycle error
type Kind string

const (
	// KindDataUnavailable means a required observation does not yet exist.
	// Retryable by waiting for the next ingestion poll.
	KindDataUnavailable Kind = "data_unavailable"
	// KindDataInconsistent means the alignment ordering invariant was
	// violated. Fatal to the cycle, never silently patched.
	KindDataInconsistent Kind = "data_inconsistent"
	// KindSolverNonConvergence means the optimizer failed to converge or the
	// constraint set was infeasible. Fatal for this cycle; previous weights
	// remain the baseline for the next attempt.
	KindSolverNonConvergence Kind = "solver_non_convergence"
	// KindExecutionFailure means a single trade reached terminal failure.
	// Recorded, does not abort sibling trades.
	KindExecutionFailure Kind = "execution_failure"
	// KindPersistenceFailure means a ledger write failed. The cycle is
	// retried from the last durable checkpoint.
	KindPersistenceFailure Kind = "persistence_failure"
)

// CycleError is an error with a taxonomy kind and structured details
type CycleError struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CycleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *CycleError) Unwrap() error {
	return e.Cause
}

// NewDataUnavailable reports that an entity has no qualifying observation yet
func NewDataUnavailable(entity string, message string) *CycleError {
	return &CycleError{
		Kind:    KindDataUnavailable,
		Message: message,
		Details: map[string]interface{}{
			"entity": entity,
		},
	}
}

// NewDataInconsistent reports a violated ordering or tie-break invariant
func NewDataInconsistent(entity string, message string) *CycleError {
	return &CycleError{
		Kind:    KindDataInconsistent,
		Message: message,
		Details: map[string]interface{}{
			"entity": entity,
		},
	}
}

// NewSolverNonConvergence reports an infeasible or non-converged solve
func NewSolverNonConvergence(message string, details map[string]interface{}) *CycleError {
	return &CycleError{
		Kind:    KindSolverNonConvergence,
		Message: message,
		Details: details,
	}
}

// NewExecutionFailure reports the terminal failure of a single trade
func NewExecutionFailure(tradeID int64, cause error) *CycleError {
	return &CycleError{
		Kind:    KindExecutionFailure,
		Message: "trade reached terminal failure",
		Details: map[string]interface{}{
			"tradeId": tradeID,
		},
		Cause: cause,
	}
}

// NewPersistenceFailure reports a failed ledger write
func NewPersistenceFailure(operation string, cause error) *CycleError {
	return &CycleError{
		Kind:    KindPersistenceFailure,
		Message: fmt.Sprintf("ledger write failed during %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

// KindOf returns the taxonomy kind of an error, or "" if uncategorized
func KindOf(err error) Kind {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether the cycle may be retried automatically.
// Only DataUnavailable qualifies; bounded transient submission retries are
// handled inside the coordinator before an ExecutionFailure is raised.
func IsRetryable(err error) bool {
	return KindOf(err) == KindDataUnavailable
}

// IsFatal reports whether the error requires external review before the
// next cycle proceeds
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindDataInconsistent, KindSolverNonConvergence, KindPersistenceFailure:
		return true
	default:
		return false
	}
}
