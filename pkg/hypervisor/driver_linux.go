//go:build linux

package hypervisor

import (
	"fmt"
	"os"
	"os/exec"
)

// NewDriver creates an xl-backed driver for Linux.
func NewDriver(xlPath string) (Driver, error) {
	if xlPath == "" {
		xlPath = "xl"
	}
	path, err := exec.LookPath(xlPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolstackMissing, err)
	}
	return newXLDriver(path, nil), nil
}

// NewHostPower returns a HostPower that writes state to the kernel's
// power-state file (normally /sys/power/state).
func NewHostPower(statePath, state string) (HostPower, error) {
	if statePath == "" {
		statePath = DefaultPowerStatePath
	}
	if state == "" {
		state = DefaultSleepState
	}
	if _, err := os.Stat(statePath); err != nil {
		return nil, fmt.Errorf("hypervisor: power state file not accessible: %w", err)
	}
	return &sysfsPower{statePath: statePath, state: state}, nil
}
