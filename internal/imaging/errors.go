package imaging

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation covers missing or malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means the referenced object or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotReady means an expected derived artifact is absent but may still
	// appear; callers should retry rather than treat it as permanent.
	ErrNotReady = errors.New("not ready")
)

// StepFailure records a single failed step inside a multi-step workflow.
type StepFailure struct {
	Key  string
	Step string
	Err  error
}

// PartialError reports a batch or dual-write operation where some steps
// succeeded before others failed. The completed steps are not rolled back;
// Failures carries enough detail for manual reconciliation.
type PartialError struct {
	Op       string
	Total    int
	Failures []StepFailure
}

func (e *PartialError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d steps failed", e.Op, len(e.Failures), e.Total)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s %s: %v", f.Step, f.Key, f.Err)
	}
	return b.String()
}

func (e *PartialError) AllFailed() bool {
	return len(e.Failures) >= e.Total
}

// Unwrap exposes the first underlying cause so errors.Is still matches
// sentinel errors such as ErrNotReady.
func (e *PartialError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}
