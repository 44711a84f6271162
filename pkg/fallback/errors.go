package fallback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExhausted is returned when no target in the chain produced a
// response. Check with errors.Is().
var ErrExhausted = errors.New("all fallback targets exhausted")

// Outcome explains what happened to one target during a call.
type Outcome struct {
	// Target is the target's name.
	Target string

	// Skipped marks targets never executed (open breaker).
	Skipped bool

	// Reason is the failure or skip explanation.
	Reason string
}

// ExhaustedError reports a call that ran out of targets, naming every
// target considered and why each did not serve the request.
type ExhaustedError struct {
	// RequestID identifies the failed request.
	RequestID string

	// Attempts is how many execution attempts were actually made.
	Attempts int

	// Outcomes lists every target considered, in order.
	Outcomes []Outcome
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Outcomes))
	for i, o := range e.Outcomes {
		if o.Skipped {
			parts[i] = fmt.Sprintf("%s: skipped (%s)", o.Target, o.Reason)
		} else {
			parts[i] = fmt.Sprintf("%s: %s", o.Target, o.Reason)
		}
	}
	return fmt.Sprintf("request %s: all fallback targets exhausted after %d attempts: %s",
		e.RequestID, e.Attempts, strings.Join(parts, "; "))
}

// Is implements error matching for errors.Is().
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}
