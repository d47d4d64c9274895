/*
errors.go - Centralized error types for the lifecycle engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - bad program setup, non-positive required hours
  2. Guard violations - illegal transition, wrong actor, expired deadline
  3. Computation errors - deadline search exhausted its iteration bound
  4. Store errors - missing records, optimistic-lock conflicts

USAGE:
  Handlers map errors to HTTP status with the helpers at the bottom:

    if generic.IsClientError(err) {
        // 4xx with err.Error() as the user-facing reason
    }

SEE ALSO:
  - deadline.go: DeadlineError
  - practica/transitions.go: TransitionError
  - api/handlers.go: status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfiguration is returned for unusable setup such as
	// non-positive required hours or a program without hours for a kind.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDeadlineUncomputable is returned when the business-day walk exceeds
	// its safety bound (the holiday source marked too many days).
	ErrDeadlineUncomputable = errors.New("could not compute deadline")

	// ErrIllegalTransition is returned when the current state does not list
	// the attempted operation.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrWrongActor is returned when the actor lacks the role or ownership the
	// operation requires. It also matches ErrIllegalTransition.
	ErrWrongActor = fmt.Errorf("%w: actor not allowed", ErrIllegalTransition)

	// ErrDeadlineExpired is returned when a time-boxed transition is attempted
	// after its deadline.
	ErrDeadlineExpired = errors.New("deadline expired")

	// ErrEarlySubmission is returned when a report is uploaded before the
	// completion date.
	ErrEarlySubmission = errors.New("submission before completion date")

	// ErrValidation is returned for missing or malformed operation input.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInternshipNotFound is returned when a referenced internship doesn't exist.
	ErrInternshipNotFound = errors.New("internship not found")

	// ErrProgramNotFound is returned when a referenced program doesn't exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrEntityNotFound is returned for any other missing record (site, staff).
	ErrEntityNotFound = errors.New("entity not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DeadlineError provides details about a failed completion-date computation.
type DeadlineError struct {
	Start         TimePoint
	RequiredHours int
	Iterations    int
	cause         error
}

func (e *DeadlineError) Error() string {
	if e.Iterations > 0 {
		return fmt.Sprintf("%v: start %s, %d hours, gave up after %d days",
			e.cause, e.Start, e.RequiredHours, e.Iterations)
	}
	return fmt.Sprintf("%v: required hours must be positive, got %d", e.cause, e.RequiredHours)
}

func (e *DeadlineError) Unwrap() error {
	return e.cause
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or a guard the caller violated.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrDeadlineExpired) ||
		errors.Is(err, ErrEarlySubmission) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInternshipNotFound) ||
		errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrEntityNotFound)
}
