package pipeline

import (
	"fmt"

	"github.com/ligustah/splice/pkg/ranges"
)

// StageError is returned when the run could not start or finish as a whole,
// as opposed to a failure of individual ranges. Stage is "setup", "read"
// or "flush".
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RangeError records a range that could not be read, transformed or merged.
type RangeError struct {
	Index int
	Range ranges.Range
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %d %s: %v", e.Index, e.Range, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// PartialError is returned when some ranges failed and the rest were merged.
// The store holds its previous content in the failed ranges.
type PartialError struct {
	Failed []*RangeError
	Total  int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d ranges failed, first: %v", len(e.Failed), e.Total, e.Failed[0])
}

// Unwrap exposes the individual range errors to errors.Is and errors.As.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// CircuitBreakerError is returned when too many consecutive ranges failed and
// the remaining work was cancelled.
//
// Use errors.As to extract it and inspect Failed for details.
type CircuitBreakerError struct {
	ConsecutiveFailures int
	Failed              []*RangeError
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: %d consecutive failures", e.ConsecutiveFailures)
}
