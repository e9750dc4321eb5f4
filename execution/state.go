package execution

import (
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
)

// validTransitions lists, per status, the statuses it may move to.
// Retries never leave a terminal status; they create a new execution.
var validTransitions = map[Status][]Status{
	StatusQueued:   {StatusRunning, StatusAborted, StatusFailed},
	StatusRunning:  {StatusFinished, StatusFailed, StatusAborted},
	StatusFinished: {},
	StatusFailed:   {},
	StatusAborted:  {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves e to status to at now. Entering RUNNING stamps
// StartedAt; entering a terminal status stamps EndedAt and Duration.
// fail is recorded only for FAILED and ABORTED.
func (e *Execution) Transition(to Status, fail FailStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: execution %s %s -> %s", workhorse.ErrInvalidState, e.ID, e.Status, to)
	}

	now = now.UTC()
	switch to {
	case StatusRunning:
		e.StartedAt = &now
	case StatusFinished, StatusFailed, StatusAborted:
		e.EndedAt = &now
		if e.StartedAt != nil {
			e.Duration = now.Sub(*e.StartedAt)
		}
	}

	e.FailStatus = FailNone
	if to == StatusFailed || to == StatusAborted {
		if fail == "" {
			fail = FailNone
		}
		e.FailStatus = fail
	}

	e.Status = to
	e.UpdatedAt = now
	return nil
}
