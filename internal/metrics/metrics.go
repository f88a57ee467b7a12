// Package metrics exposes prometheus collectors for suspend cycles and
// the daemon's watch loop. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xenpm/xensuspend/internal/version"
)

const namespace = "xensuspend"

// Cycle results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDropped = "dropped"
)

// Metrics holds the collectors.
type Metrics struct {
	cycles         *prometheus.CounterVec
	inProgress     prometheus.Gauge
	guestOps       *prometheus.CounterVec
	suspendSeconds prometheus.Histogram
	phaseSeconds   *prometheus.GaugeVec
	knownGuests    prometheus.Gauge
	watchEvents    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Suspend cycles by result.",
		}, []string{"result"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_in_progress",
			Help:      "1 while a suspend cycle is running.",
		}),
		guestOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_operations_total",
			Help:      "Per-guest suspend and resume steps by result.",
		}, []string{"op", "result"}),
		suspendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guest_suspend_seconds",
			Help:      "Time for a guest to reach the suspended state.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		phaseSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_phase_seconds",
			Help:      "Duration of each phase of the most recent cycle.",
		}, []string{"phase"}),
		knownGuests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_guests",
			Help:      "Guests the daemon currently tracks.",
		}),
		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Watch notifications received by kind.",
		}, []string{"kind"}),
	}
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build of the running binary.",
	}, []string{"version", "commit"})
	buildInfo.WithLabelValues(version.Version, version.ShortCommit()).Set(1)

	reg.MustRegister(buildInfo, m.cycles, m.inProgress, m.guestOps, m.suspendSeconds, m.phaseSeconds, m.knownGuests, m.watchEvents)
	return m
}

// CycleStarted marks a cycle as running.
func (m *Metrics) CycleStarted() {
	if m == nil {
		return
	}
	m.inProgress.Set(1)
}

// CycleFinished counts a finished cycle.
func (m *Metrics) CycleFinished(err error) {
	if m == nil {
		return
	}
	m.inProgress.Set(0)
	m.cycles.WithLabelValues(result(err)).Inc()
}

// CycleDropped counts a request refused because a cycle was running.
func (m *Metrics) CycleDropped() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(ResultDropped).Inc()
}

// GuestSuspended records one guest suspend step.
func (m *Metrics) GuestSuspended(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.guestOps.WithLabelValues("suspend", result(err)).Inc()
	if err == nil {
		m.suspendSeconds.Observe(d.Seconds())
	}
}

// GuestResumed records one guest resume step.
func (m *Metrics) GuestResumed(err error) {
	if m == nil {
		return
	}
	m.guestOps.WithLabelValues("resume", result(err)).Inc()
}

// Phase records how long a named cycle phase took.
func (m *Metrics) Phase(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseSeconds.WithLabelValues(name).Set(d.Seconds())
}

// KnownGuests sets the tracked guest count.
func (m *Metrics) KnownGuests(n int) {
	if m == nil {
		return
	}
	m.knownGuests.Set(float64(n))
}

// WatchEvent counts a watch notification of kind "list" or "guest".
func (m *Metrics) WatchEvent(kind string) {
	if m == nil {
		return
	}
	m.watchEvents.WithLabelValues(kind).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
