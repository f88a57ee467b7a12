// Package orchestrator runs a full host suspend cycle: order the guests,
// suspend them one by one ending with the host itself, then resume them
// in reverse once the host wakes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenpm/xensuspend/internal/metrics"
	"github.com/xenpm/xensuspend/internal/state"
	"github.com/xenpm/xensuspend/internal/timing"
	"github.com/xenpm/xensuspend/internal/topology"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

// DefaultSettleDelay is the pause between resumed guests.
const DefaultSettleDelay = 3 * time.Second

// GraphSource builds the current dependency graph.
type GraphSource interface {
	BuildDependencies(ctx context.Context) (topology.Graph, error)
}

// GuestDriver suspends and resumes single guests.
type GuestDriver interface {
	SuspendGuest(ctx context.Context, id hypervisor.GuestID, timeout time.Duration) error
	ResumeGuest(ctx context.Context, id hypervisor.GuestID) error
}

// Recorder persists the outcome of each cycle.
type Recorder interface {
	RecordCycle(c state.Cycle) error
}

// Locker excludes cycles run by other processes on the same host.
// TryAcquire returns an error wrapping state.ErrLocked when the lock is
// held elsewhere.
type Locker interface {
	TryAcquire() (release func(), err error)
}

// Config tunes a cycle.
type Config struct {
	// SuspendTimeout bounds each guest's suspend; zero uses the driver's.
	SuspendTimeout time.Duration

	// SettleDelay separates consecutive resumed guests.
	SettleDelay time.Duration

	// RecomputeResumeOrder rebuilds the graph after the host wakes.
	RecomputeResumeOrder bool

	// RollbackOnFailure resumes already-suspended guests when the
	// suspend phase fails.
	RollbackOnFailure bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every finished cycle.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics reports cycles to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCycleLock holds l for the duration of every cycle.
func WithCycleLock(l Locker) Option {
	return func(o *Orchestrator) { o.lock = l }
}

// Orchestrator runs at most one cycle at a time.
type Orchestrator struct {
	graphs   GraphSource
	guests   GuestDriver
	cfg      Config
	recorder Recorder
	metrics  *metrics.Metrics
	lock     Locker
	logger   *slog.Logger

	running sync.Mutex
}

// New returns an Orchestrator.
func New(graphs GraphSource, guests GuestDriver, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{graphs: graphs, guests: guests, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlanSuspend builds the dependency graph and the suspend order without
// touching any guest.
func (o *Orchestrator) PlanSuspend(ctx context.Context) (topology.Graph, topology.Order, error) {
	g, err := o.graphs.BuildDependencies(ctx)
	if err != nil {
		return nil, nil, err
	}
	order, err := topology.SortSuspendOrder(g)
	if err != nil {
		return g, nil, err
	}
	if i := order.Index(hypervisor.HostGuest); i >= 0 && i != len(order)-1 {
		return g, order, fmt.Errorf("%w: order is %s", ErrHostNotLast, order)
	}
	return g, order, nil
}

// RunFullSuspendCycle suspends every guest in dependency order, sleeps
// the host, and resumes everything once it wakes. It returns
// ErrCycleInProgress without doing anything if a cycle is running here
// or, with WithCycleLock, in another process.
func (o *Orchestrator) RunFullSuspendCycle(ctx context.Context) error {
	if !o.running.TryLock() {
		o.metrics.CycleDropped()
		return ErrCycleInProgress
	}
	defer o.running.Unlock()

	if o.lock != nil {
		release, err := o.lock.TryAcquire()
		if errors.Is(err, state.ErrLocked) {
			o.metrics.CycleDropped()
			return fmt.Errorf("%w: %v", ErrCycleInProgress, err)
		}
		if err != nil {
			return fmt.Errorf("cycle lock: %w", err)
		}
		defer release()
	}

	c := &cycle{
		Orchestrator: o,
		id:           uuid.NewString(),
		timer:        timing.New(),
	}
	c.logger = o.logger.With("cycle_id", c.id)

	started := time.Now()
	o.metrics.CycleStarted()
	c.logger.Info("suspend cycle starting")

	err := c.run(ctx)

	o.metrics.CycleFinished(err)
	for _, p := range c.timer.Phases() {
		o.metrics.Phase(p.Name, p.Duration)
	}
	if err != nil {
		c.logger.Error("suspend cycle failed", "err", err, "phases", c.timer)
	} else {
		c.logger.Info("suspend cycle complete", "phases", c.timer)
	}

	if o.recorder != nil {
		rec := state.Cycle{ID: c.id, Started: started, Finished: time.Now(), Order: guestIDs(c.order), Err: err}
		if rerr := o.recorder.RecordCycle(rec); rerr != nil {
			c.logger.Warn("could not record cycle", "err", rerr)
		}
	}
	return err
}

// cycle is the state of one RunFullSuspendCycle call.
type cycle struct {
	*Orchestrator
	id     string
	logger *slog.Logger
	timer  *timing.Timer
	order  topology.Order
}

func (c *cycle) run(ctx context.Context) error {
	_, order, err := c.PlanSuspend(ctx)
	c.timer.Mark("plan")
	if err != nil {
		return &Error{CycleID: c.id, Phase: PhasePlan, Err: err}
	}
	c.order = order
	c.logger.Info("suspend order", "order", order.String())
	if order.Index(hypervisor.HostGuest) < 0 {
		c.logger.Warn("control domain not found, host will not sleep")
	}

	suspended, err := c.suspendAll(ctx, order)
	if err != nil {
		if c.cfg.RollbackOnFailure && len(suspended) > 0 {
			c.logger.Warn("rolling back suspended guests", "guests", suspended.String())
			if rerr := c.resumeAll(context.WithoutCancel(ctx), suspended.Reverse()); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return &Error{CycleID: c.id, Phase: PhaseSuspend, Err: err}
	}

	// The host is awake again. Resume runs to completion even if ctx is
	// cancelled meanwhile, otherwise guests would be left asleep.
	resumeCtx := context.WithoutCancel(ctx)
	if err := c.resumeAll(resumeCtx, c.resumeOrder(resumeCtx, suspended)); err != nil {
		return &Error{CycleID: c.id, Phase: PhaseResume, Err: err}
	}
	return nil
}

// suspendAll suspends order front to back and stops at the first
// failure. It returns the guests that did suspend.
func (c *cycle) suspendAll(ctx context.Context, order topology.Order) (topology.Order, error) {
	done := make(topology.Order, 0, len(order))
	for _, id := range order {
		if id == hypervisor.HostGuest {
			c.timer.Mark("suspend")
		}
		start := time.Now()
		err := c.guests.SuspendGuest(ctx, id, c.cfg.SuspendTimeout)
		if id == hypervisor.HostGuest {
			c.timer.Mark("sleep")
		} else {
			c.metrics.GuestSuspended(time.Since(start), err)
		}
		if err != nil {
			return done, err
		}
		done = append(done, id)
	}
	if order.Index(hypervisor.HostGuest) < 0 {
		c.timer.Mark("suspend")
	}
	return done, nil
}

// resumeOrder returns the order to wake the suspended guests in. With
// recompute enabled the graph is rebuilt, since backends may have moved
// while the host slept; guests that were not suspended by this cycle are
// left alone and suspended guests missing from the new graph go last.
func (c *cycle) resumeOrder(ctx context.Context, suspended topology.Order) topology.Order {
	fallback := suspended.Reverse()
	if !c.cfg.RecomputeResumeOrder {
		return fallback
	}
	_, order, err := c.PlanSuspend(ctx)
	if err != nil {
		c.logger.Warn("recomputing resume order failed, reusing suspend order", "err", err)
		return fallback
	}

	pending := topology.NewGuestSet(suspended...)
	resume := make(topology.Order, 0, len(suspended))
	for _, id := range order.Reverse() {
		if pending.Has(id) {
			resume = append(resume, id)
			delete(pending, id)
		}
	}
	for _, id := range fallback {
		if pending.Has(id) {
			resume = append(resume, id)
		}
	}
	return resume
}

// resumeAll wakes every guest in order, waiting SettleDelay between
// guests. Failures are collected and do not stop the remaining guests.
func (c *cycle) resumeAll(ctx context.Context, order topology.Order) error {
	c.logger.Info("resume order", "order", order.String())
	var errs []error
	for i, id := range order {
		err := c.guests.ResumeGuest(ctx, id)
		if id != hypervisor.HostGuest {
			c.metrics.GuestResumed(err)
		}
		if err != nil {
			c.logger.Error("resume failed", "guest", id, "err", err)
			errs = append(errs, err)
		}
		if id == hypervisor.HostGuest || i == len(order)-1 {
			continue
		}
		if err := settle(ctx, c.cfg.SettleDelay); err != nil {
			errs = append(errs, err)
			break
		}
	}
	c.timer.Mark("resume")
	return errors.Join(errs...)
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func guestIDs(o topology.Order) []uint32 {
	if o == nil {
		return nil
	}
	ids := make([]uint32, len(o))
	for i, id := range o {
		ids[i] = uint32(id)
	}
	return ids
}
