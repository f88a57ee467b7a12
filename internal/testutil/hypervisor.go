package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

// Never is a FakeGuest.PollsToSuspend value for a guest that ignores
// the suspend trigger.
const Never = -1

// FakeGuest scripts one guest's behaviour.
type FakeGuest struct {
	Name string

	// PollsToSuspend is how many status polls after the trigger the
	// guest keeps running before it reports shutdown.
	PollsToSuspend int

	// CrashOnSuspend makes the guest report crashed once triggered.
	CrashOnSuspend bool

	// VanishOnSuspend makes the guest disappear once triggered.
	VanishOnSuspend bool

	TriggerErr error
	WakeErr    error

	triggered bool
	polls     int
}

// FakeHypervisor implements hypervisor.Driver and hypervisor.HostPower
// in memory and records every call as "op:id" (or "sleep").
type FakeHypervisor struct {
	mu     sync.Mutex
	guests map[hypervisor.GuestID]*FakeGuest
	calls  []string

	// OnSleep runs inside Sleep, while the "host" is asleep.
	OnSleep  func()
	SleepErr error
}

// NewFakeHypervisor returns a hypervisor whose guests suspend on the
// first poll after the trigger.
func NewFakeHypervisor(ids ...hypervisor.GuestID) *FakeHypervisor {
	h := &FakeHypervisor{guests: make(map[hypervisor.GuestID]*FakeGuest)}
	for _, id := range ids {
		h.guests[id] = &FakeGuest{Name: fmt.Sprintf("guest-%d", id)}
	}
	return h
}

// Guest returns the script for id, creating it if needed. Mutate it
// before the code under test runs.
func (h *FakeHypervisor) Guest(id hypervisor.GuestID) *FakeGuest {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.guests[id]
	if !ok {
		g = &FakeGuest{Name: fmt.Sprintf("guest-%d", id)}
		h.guests[id] = g
	}
	return g
}

// Calls returns the recorded call log.
func (h *FakeHypervisor) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *FakeHypervisor) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Version: "test", Arch: "none"}
}

func (h *FakeHypervisor) record(op string, id hypervisor.GuestID) (*FakeGuest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf("%s:%d", op, id))
	g, ok := h.guests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", hypervisor.ErrGuestNotFound, id)
	}
	return g, nil
}

func (h *FakeHypervisor) Pause(ctx context.Context, id hypervisor.GuestID) error {
	_, err := h.record("pause", id)
	return err
}

func (h *FakeHypervisor) Unpause(ctx context.Context, id hypervisor.GuestID) error {
	_, err := h.record("unpause", id)
	return err
}

func (h *FakeHypervisor) Shutdown(ctx context.Context, id hypervisor.GuestID) error {
	_, err := h.record("shutdown", id)
	return err
}

func (h *FakeHypervisor) Reboot(ctx context.Context, id hypervisor.GuestID) error {
	_, err := h.record("reboot", id)
	return err
}

func (h *FakeHypervisor) Destroy(ctx context.Context, id hypervisor.GuestID) error {
	_, err := h.record("destroy", id)
	return err
}

func (h *FakeHypervisor) SuspendTrigger(ctx context.Context, id hypervisor.GuestID) error {
	g, err := h.record("suspend", id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g.TriggerErr != nil {
		return g.TriggerErr
	}
	g.triggered = true
	g.polls = 0
	if g.VanishOnSuspend {
		delete(h.guests, id)
	}
	return nil
}

func (h *FakeHypervisor) Wake(ctx context.Context, id hypervisor.GuestID) error {
	g, err := h.record("wake", id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if g.WakeErr != nil {
		return g.WakeErr
	}
	g.triggered = false
	g.polls = 0
	return nil
}

func (h *FakeHypervisor) Status(ctx context.Context, id hypervisor.GuestID) (hypervisor.Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.guests[id]
	if !ok {
		return hypervisor.Status{}, fmt.Errorf("%w: %d", hypervisor.ErrGuestNotFound, id)
	}
	s := hypervisor.Status{ID: id, Name: g.Name}
	if !g.triggered {
		s.Running = true
		return s, nil
	}
	g.polls++
	switch {
	case g.CrashOnSuspend:
		s.Crashed = true
	case g.PollsToSuspend != Never && g.polls > g.PollsToSuspend:
		s.Shutdown = true
	default:
		s.Running = true
	}
	return s, nil
}

// Sleep records "sleep" and runs OnSleep.
func (h *FakeHypervisor) Sleep(ctx context.Context) error {
	h.mu.Lock()
	h.calls = append(h.calls, "sleep")
	hook, err := h.OnSleep, h.SleepErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}
