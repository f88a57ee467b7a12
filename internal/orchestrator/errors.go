package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrCycleInProgress is returned when a cycle is requested while
	// another one is still running.
	ErrCycleInProgress = errors.New("suspend cycle already in progress")

	// ErrHostNotLast means some guest would have to suspend after the
	// control domain, which cannot happen once the host is asleep.
	ErrHostNotLast = errors.New("control domain is not last in suspend order")
)

// Cycle phases reported in Error.
const (
	PhasePlan    = "plan"
	PhaseSuspend = "suspend"
	PhaseResume  = "resume"
)

// Error is a failed suspend cycle.
type Error struct {
	CycleID string
	Phase   string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("suspend cycle %s failed during %s: %v", e.CycleID, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
