// Package hypervisor provides the guest-control, guest-status and host
// power interfaces used to suspend and resume a Xen host and its guests.
package hypervisor

import (
	"context"
	"strconv"
)

// GuestID identifies a guest domain. HostGuest (0) is the privileged
// control domain whose suspend is the host's own sleep transition.
type GuestID uint32

// HostGuest is the control domain (dom0).
const HostGuest GuestID = 0

func (id GuestID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseGuestID parses a decimal domain id.
func ParseGuestID(s string) (GuestID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return GuestID(v), nil
}

// Driver is the main interface for guest operations.
type Driver interface {
	Controller
	StatusProbe
	Info() Info
}

// Controller issues lifecycle requests to a guest.
type Controller interface {
	Pause(ctx context.Context, id GuestID) error
	Unpause(ctx context.Context, id GuestID) error
	Shutdown(ctx context.Context, id GuestID) error
	Reboot(ctx context.Context, id GuestID) error
	Destroy(ctx context.Context, id GuestID) error

	// SuspendTrigger asks the guest OS to enter its suspended state.
	// It does not wait for the guest to get there.
	SuspendTrigger(ctx context.Context, id GuestID) error

	// Wake asks a suspended guest to resume. It does not wait for the
	// guest to be running again.
	Wake(ctx context.Context, id GuestID) error
}

// StatusProbe reports the live state of a guest. Implementations return
// ErrGuestNotFound when the guest no longer exists.
type StatusProbe interface {
	Status(ctx context.Context, id GuestID) (Status, error)
}

// HostPower puts the host itself to sleep.
type HostPower interface {
	// Sleep enters the host low-power state and returns once the host
	// has woken up again.
	Sleep(ctx context.Context) error
}

// Status is a snapshot of a guest's scheduler state.
type Status struct {
	ID       GuestID
	Name     string
	Dying    bool
	Crashed  bool
	Shutdown bool
	Paused   bool
	Blocked  bool
	Running  bool
}

// State names the most significant condition in s, in the order
// dying, crashed, shutdown, paused, blocked, running.
func (s Status) State() string {
	switch {
	case s.Dying:
		return "dying"
	case s.Crashed:
		return "crashed"
	case s.Shutdown:
		return "shutdown"
	case s.Paused:
		return "paused"
	case s.Blocked:
		return "blocked"
	case s.Running:
		return "running"
	default:
		return "unknown"
	}
}

// Info contains driver metadata.
type Info struct {
	Name    string // "xl"
	Version string // Driver version
	Arch    string // "arm64" or "amd64"
}
