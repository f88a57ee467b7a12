package topology

import (
	"errors"
	"fmt"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

var (
	// ErrDiscovery is matched by every DiscoveryError.
	ErrDiscovery = errors.New("dependency discovery failed")

	// ErrCyclicDependency is matched by every CyclicDependencyError.
	ErrCyclicDependency = errors.New("cyclic guest dependency")
)

// DiscoveryError means the control-plane store could not be reached or
// held malformed topology data. Guest is zero when the failure is not
// tied to one guest.
type DiscoveryError struct {
	Guest hypervisor.GuestID
	Path  string
	Err   error
}

func (e *DiscoveryError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("discover guests: %v", e.Err)
	}
	return fmt.Sprintf("discover dependencies of guest %d at %s: %v", e.Guest, e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() []error { return []error{ErrDiscovery, e.Err} }

// CyclicDependencyError carries the part of the graph that could not be
// ordered.
type CyclicDependencyError struct {
	Remaining Graph
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic guest dependency among: %s", e.Remaining)
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

// DanglingDependencyError means a guest depends on a provider that is not
// itself a guest in the graph.
type DanglingDependencyError struct {
	Guest    hypervisor.GuestID
	Provider hypervisor.GuestID
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("guest %d depends on unknown guest %d", e.Guest, e.Provider)
}
