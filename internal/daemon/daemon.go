// Package daemon watches XenStore for guests coming and going and for
// guests asking the host to suspend, and runs a suspend cycle on request.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/internal/metrics"
	"github.com/xenpm/xensuspend/internal/orchestrator"
	"github.com/xenpm/xensuspend/internal/topology"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
	"github.com/xenpm/xensuspend/pkg/xenstore"
)

// ErrMonitorClosed means the watch connection went away underneath the
// daemon.
var ErrMonitorClosed = errors.New("watch connection closed")

// shutdownTimeout bounds the unwatch calls made on the way out.
const shutdownTimeout = 5 * time.Second

// State is where the event loop is.
type State int

const (
	Idle State = iota
	HandlingListChange
	HandlingSuspendRequest
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HandlingListChange:
		return "handling-list-change"
	case HandlingSuspendRequest:
		return "handling-suspend-request"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cycler runs a full suspend cycle.
type Cycler interface {
	RunFullSuspendCycle(ctx context.Context) error
}

// Daemon is the long-running event loop.
type Daemon struct {
	dial    controlplane.Dialer
	monitor controlplane.Dialer
	cycler  Cycler
	metrics *metrics.Metrics
	logger  *slog.Logger

	watching atomic.Bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithMetrics reports watch activity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithMonitorDialer opens the long-lived watch connection with dial
// instead of the per-operation dialer.
func WithMonitorDialer(dial controlplane.Dialer) Option {
	return func(d *Daemon) { d.monitor = dial }
}

// New returns a Daemon. dial opens the short sessions used for each
// read, write and listing.
func New(dial controlplane.Dialer, cycler Cycler, logger *slog.Logger, opts ...Option) *Daemon {
	d := &Daemon{dial: dial, monitor: dial, cycler: cycler, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Ready reports whether the daemon holds its watches.
func (d *Daemon) Ready() error {
	if !d.watching.Load() {
		return errors.New("not watching xenstore")
	}
	return nil
}

// loop is the state threaded through event handling.
type loop struct {
	monitor controlplane.Conn
	known   topology.GuestSet
	state   State
}

// Run watches until ctx is cancelled, then removes every watch it
// registered. A failed suspend cycle is logged and does not stop it.
func (d *Daemon) Run(ctx context.Context) error {
	mon, err := d.monitor(ctx)
	if err != nil {
		return fmt.Errorf("open watch connection: %w", err)
	}
	defer mon.Close()

	l := &loop{monitor: mon, known: topology.NewGuestSet(), state: Idle}
	defer d.shutdown(l)

	for _, special := range []string{controlplane.IntroduceDomainWatch, controlplane.ReleaseDomainWatch} {
		if err := mon.Watch(ctx, special, controlplane.DomainListToken); err != nil {
			return fmt.Errorf("watch %s: %w", special, err)
		}
	}
	d.watching.Store(true)
	defer d.watching.Store(false)
	d.logger.Info("watching for guests")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-mon.Events():
			if !ok {
				return ErrMonitorClosed
			}
			d.handle(ctx, l, ev)
		}
	}
}

func (d *Daemon) handle(ctx context.Context, l *loop, ev xenstore.WatchEvent) {
	d.logger.Debug("watch event", "path", ev.Path, "token", ev.Token)
	defer func() { l.state = Idle }()

	if ev.Token == controlplane.DomainListToken {
		l.state = HandlingListChange
		d.metrics.WatchEvent("list")
		if err := d.syncGuests(ctx, l); err != nil {
			d.logger.Error("guest list update failed", "err", err)
		}
		return
	}

	id, err := hypervisor.ParseGuestID(ev.Token)
	if err != nil {
		d.logger.Warn("ignoring watch event with unknown token", "path", ev.Path, "token", ev.Token)
		return
	}
	l.state = HandlingSuspendRequest
	d.metrics.WatchEvent("guest")
	d.handleRequest(ctx, id, ev.Path)
}

// syncGuests diffs the live guest list against the known set, giving
// new guests a control node and watch and dropping the watches of
// departed ones.
func (d *Daemon) syncGuests(ctx context.Context, l *loop) error {
	conn, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	live, err := controlplane.ListGuests(ctx, conn)
	if err != nil {
		return err
	}
	current := topology.NewGuestSet(live...)

	var added, removed []hypervisor.GuestID
	for _, id := range live {
		if l.known.Has(id) {
			continue
		}
		if err := d.addGuest(ctx, conn, l.monitor, id); err != nil {
			d.logger.Error("could not set up control node", "guest", id, "err", err)
			continue
		}
		l.known[id] = struct{}{}
		added = append(added, id)
	}
	for _, id := range l.known.Sorted() {
		if current.Has(id) {
			continue
		}
		if err := l.monitor.Unwatch(ctx, controlplane.ControlNodePath(id), controlplane.GuestToken(id)); err != nil {
			d.logger.Debug("unwatch of departed guest failed", "guest", id, "err", err)
		}
		delete(l.known, id)
		removed = append(removed, id)
	}

	d.metrics.KnownGuests(len(l.known))
	if len(added) > 0 || len(removed) > 0 {
		d.logger.Info("guest list changed", "added", added, "removed", removed, "known", l.known.Sorted())
	}
	return nil
}

func (d *Daemon) addGuest(ctx context.Context, store controlplane.Store, mon controlplane.Watcher, id hypervisor.GuestID) error {
	node := controlplane.ControlNodePath(id)
	if err := store.Mkdir(ctx, node); err != nil {
		return fmt.Errorf("mkdir %s: %w", node, err)
	}
	if err := store.SetPermissions(ctx, node, controlplane.ControlNodePermissions(id)); err != nil {
		return fmt.Errorf("set permissions on %s: %w", node, err)
	}
	if err := mon.Watch(ctx, node, controlplane.GuestToken(id)); err != nil {
		return fmt.Errorf("watch %s: %w", node, err)
	}
	return nil
}

// handleRequest reads a guest's control node and runs a cycle if the
// guest asked for one.
func (d *Daemon) handleRequest(ctx context.Context, id hypervisor.GuestID, node string) {
	logger := d.logger.With("guest", id)

	conn, err := d.dial(ctx)
	if err != nil {
		logger.Error("could not read control node", "err", err)
		return
	}
	value, err := conn.Read(ctx, node)
	if err == nil && strings.TrimSpace(value) == controlplane.SuspendRequest {
		// Clear the request so it is not replayed after a restart.
		err = conn.Write(ctx, node, "")
	}
	conn.Close()

	switch {
	case errors.Is(err, xenstore.ErrNotFound):
		logger.Debug("control node gone")
		return
	case err != nil:
		logger.Error("could not handle control node", "path", node, "err", err)
		return
	case strings.TrimSpace(value) != controlplane.SuspendRequest:
		if value != "" {
			logger.Debug("ignoring control command", "value", value)
		}
		return
	}

	logger.Info("guest requested host suspend")
	err = d.cycler.RunFullSuspendCycle(ctx)
	switch {
	case errors.Is(err, orchestrator.ErrCycleInProgress):
		logger.Info("suspend request dropped, cycle already running")
	case err != nil:
		logger.Error("suspend cycle failed", "err", err)
	}
}

// shutdown removes every registration the loop made. ctx may already be
// cancelled, so a fresh deadline is used.
func (d *Daemon) shutdown(l *loop) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, id := range l.known.Sorted() {
		if err := l.monitor.Unwatch(ctx, controlplane.ControlNodePath(id), controlplane.GuestToken(id)); err != nil {
			d.logger.Debug("unwatch failed", "guest", id, "err", err)
		}
	}
	for _, special := range []string{controlplane.IntroduceDomainWatch, controlplane.ReleaseDomainWatch} {
		if err := l.monitor.Unwatch(ctx, special, controlplane.DomainListToken); err != nil {
			d.logger.Debug("unwatch failed", "path", special, "err", err)
		}
	}
	d.logger.Info("stopped watching", "guests", len(l.known))
}
