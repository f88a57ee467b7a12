package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenpm/xensuspend/internal/state"
	"github.com/xenpm/xensuspend/internal/testutil"
	"github.com/xenpm/xensuspend/internal/topology"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

func driverDomainGraph() topology.Graph {
	g := make(topology.Graph)
	g.Add(0)
	g.Add(1, 0)
	g.Add(2, 1, 0)
	g.Add(3, 0, 1)
	g.Add(4, 1, 0, 3)
	g.Add(5, 1, 0, 3, 2, 6)
	g.Add(6, 0, 4)
	return g
}

func TestRenderPlan(t *testing.T) {
	g := driverDomainGraph()
	// A fixed order keeps the golden file independent of how the sorter
	// breaks ties.
	order := topology.Order{5, 6, 4, 3, 2, 1, 0}

	var buf bytes.Buffer
	require.NoError(t, renderPlan(&buf, g, order))

	gold := goldie.New(t)
	gold.Assert(t, "plan", buf.Bytes())
}

func TestRenderPlanWithoutOrder(t *testing.T) {
	g := make(topology.Graph)
	g.Add(1, 2)
	g.Add(2, 1)

	var buf bytes.Buffer
	require.NoError(t, renderPlan(&buf, g, nil))
	assert.NotContains(t, buf.String(), "Suspend order")
	assert.Contains(t, buf.String(), "GUEST")
}

func TestRenderStatus(t *testing.T) {
	started := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderStatus(&buf, statusReport{
		DaemonPID: 4242,
		Guests: []guestRow{
			{ID: 0, Name: "Domain-0", State: "running"},
			{ID: 1, Name: "DomD", State: "blocked"},
		},
		Last: &state.PersistentState{
			LastCycleID: "6f1c",
			LastSuspend: started,
			LastResume:  started.Add(time.Hour),
			CycleCount:  3,
			FailedCount: 1,
			LastOrder:   []uint32{1, 0},
			LastError:   "suspend guest 1: suspend timed out",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Daemon:  running (PID 4242)")
	assert.Contains(t, out, "DomD")
	assert.Contains(t, out, "Last cycle: 6f1c")
	assert.Contains(t, out, "Started:  2026-03-01T22:00:00Z")
	assert.Contains(t, out, "Result:   failed: suspend guest 1: suspend timed out")
	assert.Contains(t, out, "Order:    1 0")
	assert.Contains(t, out, "Cycles:     3 (1 failed)")
}

func TestRenderStatusNoHistory(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, statusReport{GuestsErr: errors.New("xenstore: no such file or directory"), Last: &state.PersistentState{}})

	out := buf.String()
	assert.Contains(t, out, "Daemon:  not running")
	assert.Contains(t, out, "Guests:  unavailable")
	assert.Contains(t, out, "Last cycle: none")
}

func TestAcquirePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xensuspend.pid")

	release, err := acquirePIDFile(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	running, pid := isDaemonRunning(path)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	_, err = acquirePIDFile(path)
	assert.ErrorIs(t, err, errAlreadyRunning)

	release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	release, err = acquirePIDFile(path)
	require.NoError(t, err)
	release()
}

func TestStalePIDFileIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xensuspend.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0644))

	running, _ := isDaemonRunning(path)
	assert.False(t, running)

	release, err := acquirePIDFile(path)
	require.NoError(t, err)
	defer release()

	pid, ok := readPIDFile(path)
	assert.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "json", false).Debug("hidden")
	assert.Empty(t, buf.String())

	newLogger(&buf, "info", "json", true).Debug("shown", "guest", hypervisor.GuestID(3))
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
	assert.Contains(t, buf.String(), `"guest":3`)

	buf.Reset()
	newLogger(&buf, "warn", "text", false).Info("hidden")
	assert.Empty(t, buf.String())
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"suspend", "daemon", "plan", "status", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, daemonCmd.Flags().Lookup("pidfile"))
	assert.NotNil(t, daemonCmd.Flags().Lookup("metrics-listen"))
	assert.NotNil(t, suspendCmd.Flags().Lookup("timeout"))
	assert.NotNil(t, rootCmd.PersistentFlags().ShorthandLookup("v"))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "xensuspend dev"))
}

func TestOrchestratorConfigFromConfig(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.RollbackOnFailure = true
	cfg.RecomputeResumeOrder = false

	oc := orchestratorConfig(cfg)
	assert.Equal(t, cfg.SuspendTimeout, oc.SuspendTimeout)
	assert.Equal(t, cfg.SettleDelay, oc.SettleDelay)
	assert.True(t, oc.RollbackOnFailure)
	assert.False(t, oc.RecomputeResumeOrder)
}

func TestPlannerWithoutStore(t *testing.T) {
	cfg := testutil.TestConfig(t)

	_, _, err := newPlanner(cfg, testutil.DiscardLogger()).PlanSuspend(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrDiscovery)
}
