// Package lifecycle suspends and resumes one guest at a time.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

// Defaults for Config.
const (
	DefaultPollInterval   = time.Second
	DefaultSuspendTimeout = 60 * time.Second
)

// Config bounds the suspend wait.
type Config struct {
	PollInterval   time.Duration
	SuspendTimeout time.Duration
}

// Driver runs the suspend and resume steps for single guests. Guest 0 is
// the host itself: suspending it sleeps the host, resuming it is a no-op.
type Driver struct {
	control hypervisor.Controller
	probe   hypervisor.StatusProbe
	host    hypervisor.HostPower
	cfg     Config
	logger  *slog.Logger
}

// NewDriver returns a Driver. Zero Config fields take the defaults.
func NewDriver(control hypervisor.Controller, probe hypervisor.StatusProbe, host hypervisor.HostPower, cfg Config, logger *slog.Logger) *Driver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SuspendTimeout <= 0 {
		cfg.SuspendTimeout = DefaultSuspendTimeout
	}
	return &Driver{control: control, probe: probe, host: host, cfg: cfg, logger: logger}
}

// SuspendGuest triggers a suspend of id and waits up to timeout for the
// guest to report shutdown. A non-positive timeout uses the configured
// one. The trigger and every status probe share the timeout, so a stuck
// toolstack call cannot outlast it. Cancelling ctx aborts the wait.
func (d *Driver) SuspendGuest(ctx context.Context, id hypervisor.GuestID, timeout time.Duration) error {
	if id == hypervisor.HostGuest {
		return d.sleepHost(ctx)
	}
	if timeout <= 0 {
		timeout = d.cfg.SuspendTimeout
	}
	logger := d.logger.With("guest", id)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("suspending guest")
	if err := d.control.SuspendTrigger(waitCtx, id); err != nil {
		switch {
		case errors.Is(err, hypervisor.ErrGuestNotFound):
			logger.Warn("guest disappeared before suspend")
			return nil
		case ctx.Err() == nil && waitCtx.Err() != nil:
			return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendTimeout, Err: fmt.Errorf("trigger did not return within %s", timeout)}
		case ctx.Err() != nil:
			return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendFailed, Err: ctx.Err()}
		}
		return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendFailed, Err: err}
	}

	start := time.Now()
	poll := func() error {
		st, err := d.probe.Status(waitCtx, id)
		switch {
		case errors.Is(err, hypervisor.ErrGuestNotFound):
			logger.Warn("guest disappeared while suspending")
			return nil
		case err != nil:
			return err
		case st.Shutdown:
			return nil
		case st.Crashed || st.Dying:
			return backoff.Permanent(fmt.Errorf("%w: %s is %s", errGuestDead, st.Name, deadState(st)))
		}
		logger.Debug("waiting for guest to suspend", "name", st.Name, "left", (timeout - time.Since(start)).Round(time.Millisecond))
		return errStillRunning
	}

	retries := uint64(timeout / d.cfg.PollInterval)
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.PollInterval), retries), waitCtx)
	err := backoff.RetryNotify(poll, b, func(err error, _ time.Duration) {
		if !errors.Is(err, errStillRunning) {
			logger.Debug("status probe failed", "err", err)
		}
	})
	switch {
	case err == nil:
		logger.Info("guest suspended", "took", time.Since(start).Round(time.Millisecond))
		return nil
	case ctx.Err() != nil:
		return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendFailed, Err: ctx.Err()}
	case errors.Is(err, errGuestDead):
		return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendFailed, Err: err}
	case errors.Is(err, errStillRunning), waitCtx.Err() != nil:
		return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendTimeout, Err: fmt.Errorf("still running after %s", timeout)}
	default:
		// the last probe failed and the budget ran out
		return &GuestError{Guest: id, Op: "suspend", Kind: ErrSuspendTimeout, Err: err}
	}
}

// ResumeGuest wakes id without waiting for it to run again. A guest that
// no longer exists has nothing to wake.
func (d *Driver) ResumeGuest(ctx context.Context, id hypervisor.GuestID) error {
	if id == hypervisor.HostGuest {
		return nil
	}
	d.logger.Info("resuming guest", "guest", id)
	if err := d.control.Wake(ctx, id); err != nil {
		if errors.Is(err, hypervisor.ErrGuestNotFound) {
			d.logger.Warn("guest disappeared before resume", "guest", id)
			return nil
		}
		return &GuestError{Guest: id, Op: "resume", Kind: ErrResumeFailed, Err: err}
	}
	return nil
}

func (d *Driver) sleepHost(ctx context.Context) error {
	d.logger.Info("suspending host")
	start := time.Now()
	if err := d.host.Sleep(ctx); err != nil {
		return &GuestError{Guest: hypervisor.HostGuest, Op: "suspend", Kind: ErrSuspendFailed, Err: err}
	}
	d.logger.Info("host woke up", "slept", time.Since(start).Round(time.Millisecond))
	return nil
}

var (
	errStillRunning = errors.New("guest still running")
	errGuestDead    = errors.New("guest died while suspending")
)

func deadState(st hypervisor.Status) string {
	if st.Crashed {
		return "crashed"
	}
	return "dying"
}
