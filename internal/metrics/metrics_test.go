package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenpm/xensuspend/internal/testutil"
)

func TestCycleMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CycleStarted()
	assert.Equal(t, 1.0, promtest.ToFloat64(m.inProgress))
	m.CycleFinished(nil)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.inProgress))

	m.CycleStarted()
	m.CycleFinished(errors.New("suspend timed out"))
	m.CycleDropped()

	assert.Equal(t, 1.0, promtest.ToFloat64(m.cycles.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.cycles.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.cycles.WithLabelValues(ResultDropped)))
}

func TestGuestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.GuestSuspended(2*time.Second, nil)
	m.GuestSuspended(time.Minute, errors.New("timeout"))
	m.GuestResumed(nil)
	m.Phase("suspend", 1500*time.Millisecond)
	m.KnownGuests(4)
	m.WatchEvent("list")
	m.WatchEvent("list")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.guestOps.WithLabelValues("suspend", ResultSuccess)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.guestOps.WithLabelValues("suspend", ResultFailure)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.guestOps.WithLabelValues("resume", ResultSuccess)))
	assert.Equal(t, 1.5, promtest.ToFloat64(m.phaseSeconds.WithLabelValues("suspend")))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.knownGuests))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.watchEvents.WithLabelValues("list")))
	assert.Equal(t, 1, promtest.CollectAndCount(m.suspendSeconds))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CycleStarted()
		m.CycleFinished(nil)
		m.CycleDropped()
		m.GuestSuspended(time.Second, nil)
		m.GuestResumed(nil)
		m.Phase("resume", time.Second)
		m.KnownGuests(1)
		m.WatchEvent("guest")
	})
}

func TestServerEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.KnownGuests(3)

	var notReady error = errors.New("not watching")
	srv := NewServer("127.0.0.1:0", reg, func() error { return notReady }, testutil.DiscardLogger())

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "xensuspend_known_guests 3"))
	assert.True(t, strings.Contains(rec.Body.String(), `xensuspend_build_info{commit="unknown",version="dev"} 1`))

	assert.Equal(t, http.StatusOK, get("/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)

	notReady = nil
	assert.Equal(t, http.StatusOK, get("/ready").Code)
}
