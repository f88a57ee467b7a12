package lifecycle

import (
	"errors"
	"fmt"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

var (
	// ErrSuspendTimeout means the guest did not reach a suspended state
	// within its budget.
	ErrSuspendTimeout = errors.New("suspend timed out")

	// ErrSuspendFailed means the suspend trigger failed or the guest
	// crashed while suspending.
	ErrSuspendFailed = errors.New("suspend failed")

	// ErrResumeFailed means the wake trigger failed.
	ErrResumeFailed = errors.New("resume failed")
)

// GuestError reports a failed step for one guest. Kind is one of the
// package sentinels; Err is the underlying cause, if any.
type GuestError struct {
	Guest hypervisor.GuestID
	Op    string
	Kind  error
	Err   error
}

func (e *GuestError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s guest %d: %v", e.Op, e.Guest, e.Kind)
	}
	return fmt.Sprintf("%s guest %d: %v: %v", e.Op, e.Guest, e.Kind, e.Err)
}

func (e *GuestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
