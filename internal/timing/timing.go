// Package timing measures the phases of a suspend cycle.
package timing

import (
	"fmt"
	"log/slog"
	"time"
)

// Timer tracks durations of named phases.
type Timer struct {
	start  time.Time
	phases []Phase
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	return &Timer{start: time.Now()}
}

// Mark records a named phase ending now and returns its duration.
// Duration is time since last mark (or since start if first mark).
func (t *Timer) Mark(name string) time.Duration {
	duration := time.Since(t.start) - t.totalDuration()
	t.phases = append(t.phases, Phase{Name: name, Duration: duration})
	return duration
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return time.Since(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	return t.phases
}

// LogValue renders the phases as a log group, so a Timer can be passed
// straight to a logger.
func (t *Timer) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(t.phases)+1)
	for _, p := range t.phases {
		attrs = append(attrs, slog.String(p.Name, formatDuration(p.Duration)))
	}
	attrs = append(attrs, slog.String("total", formatDuration(t.Total())))
	return slog.GroupValue(attrs...)
}

// totalDuration returns the sum of all phase durations.
func (t *Timer) totalDuration() time.Duration {
	var total time.Duration
	for _, p := range t.phases {
		total += p.Duration
	}
	return total
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
