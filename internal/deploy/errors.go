package deploy

import "fmt"

// requirementNotMetError signals a version whose recorded metrics fall below
// a configured deployment requirement.
type requirementNotMetError struct {
	metric   string
	required float64
	actual   float64
}

func (e requirementNotMetError) Error() string {
	return fmt.Sprintf("requirement not met: %s = %v, required >= %v", e.metric, e.actual, e.required)
}

// ErrRequirementNotMet constructs a requirementNotMetError.
func ErrRequirementNotMet(metric string, required, actual float64) error {
	return requirementNotMetError{metric: metric, required: required, actual: actual}
}

// IsRequirementNotMet reports whether err indicates a failed metric
// requirement.
func IsRequirementNotMet(err error) bool {
	_, ok := err.(requirementNotMetError)
	return ok
}

// insufficientHistoryError signals a rollback deeper than the recorded
// history allows.
type insufficientHistoryError struct {
	steps int
	have  int
}

func (e insufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: rollback of %d steps needs %d records, have %d", e.steps, e.steps+1, e.have)
}

// ErrInsufficientHistory constructs an insufficientHistoryError.
func ErrInsufficientHistory(steps, have int) error {
	return insufficientHistoryError{steps: steps, have: have}
}

// IsInsufficientHistory reports whether err indicates a too-deep rollback.
func IsInsufficientHistory(err error) bool {
	_, ok := err.(insufficientHistoryError)
	return ok
}

// swapFailedError signals that the serving engine could not load the target
// artifact. By the time it is surfaced, restore has already run.
type swapFailedError struct{ err error }

func (e swapFailedError) Error() string { return "swap failed: " + e.err.Error() }
func (e swapFailedError) Unwrap() error { return e.err }

// ErrSwapFailed wraps the underlying load failure.
func ErrSwapFailed(err error) error { return swapFailedError{err: err} }

// IsSwapFailed reports whether err indicates a failed artifact swap.
func IsSwapFailed(err error) bool {
	_, ok := err.(swapFailedError)
	return ok
}

// checkFailedError signals a failed pre-deployment check.
type checkFailedError struct {
	name   string
	reason error
}

func (e checkFailedError) Error() string {
	return fmt.Sprintf("pre-deployment check %q failed: %v", e.name, e.reason)
}
func (e checkFailedError) Unwrap() error { return e.reason }

// ErrCheckFailed constructs a checkFailedError.
func ErrCheckFailed(name string, reason error) error {
	return checkFailedError{name: name, reason: reason}
}

// IsCheckFailed reports whether err indicates a failed pre-deployment check.
func IsCheckFailed(err error) bool {
	_, ok := err.(checkFailedError)
	return ok
}
