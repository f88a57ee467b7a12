package hypervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// commandRunner runs a toolstack command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// xlDriver implements Driver by invoking the xl toolstack.
type xlDriver struct {
	xlPath string
	run    commandRunner
}

func newXLDriver(xlPath string, run commandRunner) *xlDriver {
	if xlPath == "" {
		xlPath = "xl"
	}
	if run == nil {
		run = execRunner
	}
	return &xlDriver{xlPath: xlPath, run: run}
}

func (d *xlDriver) Info() Info {
	return Info{
		Name:    "xl",
		Version: "1.0.0",
		Arch:    runtime.GOARCH,
	}
}

func (d *xlDriver) Pause(ctx context.Context, id GuestID) error {
	return d.guestCommand(ctx, "pause", id)
}

func (d *xlDriver) Unpause(ctx context.Context, id GuestID) error {
	return d.guestCommand(ctx, "unpause", id)
}

func (d *xlDriver) Shutdown(ctx context.Context, id GuestID) error {
	return d.guestCommand(ctx, "shutdown", id)
}

func (d *xlDriver) Reboot(ctx context.Context, id GuestID) error {
	return d.guestCommand(ctx, "reboot", id)
}

func (d *xlDriver) Destroy(ctx context.Context, id GuestID) error {
	return d.guestCommand(ctx, "destroy", id)
}

// SuspendTrigger presses the virtual ACPI sleep button.
func (d *xlDriver) SuspendTrigger(ctx context.Context, id GuestID) error {
	_, err := d.xl(ctx, "trigger", id.String(), "sleep")
	return err
}

// Wake delivers the S3 resume trigger.
func (d *xlDriver) Wake(ctx context.Context, id GuestID) error {
	_, err := d.xl(ctx, "trigger", id.String(), "s3resume")
	return err
}

func (d *xlDriver) Status(ctx context.Context, id GuestID) (Status, error) {
	out, err := d.xl(ctx, "list", id.String())
	if err != nil {
		return Status{}, err
	}
	statuses, err := parseXLList(out)
	if err != nil {
		return Status{}, err
	}
	for _, s := range statuses {
		if s.ID == id {
			return s, nil
		}
	}
	return Status{}, fmt.Errorf("%w: %d", ErrGuestNotFound, id)
}

func (d *xlDriver) guestCommand(ctx context.Context, verb string, id GuestID) error {
	_, err := d.xl(ctx, verb, id.String())
	return err
}

func (d *xlDriver) xl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := d.run(ctx, d.xlPath, args...)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	msg := strings.TrimSpace(string(out))
	if strings.Contains(msg, "invalid domain identifier") {
		return nil, fmt.Errorf("%w: xl %s", ErrGuestNotFound, strings.Join(args, " "))
	}
	return nil, fmt.Errorf("%w: xl %s: %v: %s", ErrCommandFailed, strings.Join(args, " "), err, msg)
}

// parseXLList parses the table printed by "xl list":
//
//	Name                                        ID   Mem VCPUs	State	Time(s)
//	Domain-0                                     0  1024     4     r-----     123.4
func parseXLList(out []byte) ([]Status, error) {
	var statuses []Status
	for _, line := range bytes.Split(out, []byte("\n")) {
		fields := strings.Fields(string(line))
		if len(fields) == 0 || fields[0] == "Name" {
			continue
		}
		if len(fields) < 6 {
			return nil, fmt.Errorf("hypervisor: malformed xl list line %q", line)
		}
		n := len(fields)
		id, err := ParseGuestID(fields[n-5])
		if err != nil {
			return nil, fmt.Errorf("hypervisor: malformed domain id in %q: %w", line, err)
		}
		s := parseStateFlags(fields[n-2])
		s.ID = id
		s.Name = strings.Join(fields[:n-5], " ")
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// parseStateFlags decodes the six-column "rbpscd" state string.
func parseStateFlags(flags string) Status {
	var s Status
	for _, c := range flags {
		switch c {
		case 'r':
			s.Running = true
		case 'b':
			s.Blocked = true
		case 'p':
			s.Paused = true
		case 's':
			s.Shutdown = true
		case 'c':
			s.Crashed = true
		case 'd':
			s.Dying = true
		}
	}
	return s
}
