package daemon_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/internal/daemon"
	"github.com/xenpm/xensuspend/internal/testutil"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
	"github.com/xenpm/xensuspend/pkg/xenstore"
)

const waitFor = 5 * time.Second

type fakeCycler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeCycler) RunFullSuspendCycle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeCycler) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type harness struct {
	store  *testutil.FakeStore
	cycler *fakeCycler
	d      *daemon.Daemon
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, guests ...hypervisor.GuestID) *harness {
	t.Helper()
	h := &harness{store: testutil.NewFakeStore(), cycler: &fakeCycler{}, done: make(chan error, 1)}
	for _, id := range guests {
		h.store.AddGuest(id)
	}
	h.d = daemon.New(h.store.Dial, h.cycler, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
			t.Error("daemon did not stop")
		}
	})

	for _, id := range guests {
		h.waitWatched(t, id)
	}
	return h
}

func (h *harness) watchCount(token string) int {
	n := 0
	for _, w := range h.store.Watches() {
		if w.Token == token {
			n++
		}
	}
	return n
}

func (h *harness) waitWatched(t *testing.T, id hypervisor.GuestID) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.watchCount(controlplane.GuestToken(id)) == 1
	}, waitFor, time.Millisecond, "guest %d never watched", id)
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(waitFor):
		t.Fatal("daemon did not stop")
		return nil
	}
}

func TestStartupWatchesExistingGuests(t *testing.T) {
	h := start(t, 0, 1, 2)

	assert.Equal(t, 2, h.watchCount(controlplane.DomainListToken))
	for _, id := range []hypervisor.GuestID{0, 1, 2} {
		_, ok := h.store.Value(controlplane.ControlNodePath(id))
		assert.True(t, ok, "control node of guest %d", id)
	}
	require.Eventually(t, func() bool { return h.d.Ready() == nil }, waitFor, time.Millisecond)
}

func TestGuestAppears(t *testing.T) {
	h := start(t, 0, 1)

	h.store.AddGuest(5)
	h.waitWatched(t, 5)

	node := controlplane.ControlNodePath(5)
	assert.Contains(t, h.store.Watches(), testutil.Registration{Path: node, Token: "5"})
	assert.Equal(t, []xenstore.Permission{
		{Domain: 0, Access: xenstore.AccessNone},
		{Domain: 5, Access: xenstore.AccessWrite},
	}, h.store.Permissions(node), "only guest 5 may write its control node")

	// Further list changes must not duplicate the registration.
	h.store.AddGuest(6)
	h.waitWatched(t, 6)
	assert.Equal(t, 1, h.watchCount("5"))
}

func TestGuestDisappears(t *testing.T) {
	h := start(t, 0, 1, 2)

	h.store.RemoveGuest(2)
	require.Eventually(t, func() bool { return h.watchCount("2") == 0 }, waitFor, time.Millisecond)

	assert.Contains(t, h.store.Unwatched(), testutil.Registration{Path: controlplane.ControlNodePath(2), Token: "2"})
	assert.Equal(t, 1, h.watchCount("1"))
	select {
	case err := <-h.done:
		t.Fatalf("daemon exited: %v", err)
	default:
	}

	// The guest may come back under the same id.
	h.store.AddGuest(2)
	h.waitWatched(t, 2)
}

func TestSuspendRequestRunsCycle(t *testing.T) {
	h := start(t, 0, 1)
	node := controlplane.ControlNodePath(1)

	h.store.Set(node, "suspend")
	require.Eventually(t, func() bool { return h.cycler.Calls() == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		v, _ := h.store.Value(node)
		return v == ""
	}, waitFor, time.Millisecond, "request must be cleared")

	// Clearing the node fires the watch again; that must not start
	// another cycle.
	assert.Never(t, func() bool { return h.cycler.Calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestOtherCommandsIgnored(t *testing.T) {
	h := start(t, 0, 1)
	node := controlplane.ControlNodePath(1)

	h.store.Set(node, "reboot")
	h.store.Set(node, "suspend-now")
	assert.Never(t, func() bool { return h.cycler.Calls() > 0 }, 100*time.Millisecond, 5*time.Millisecond)

	v, _ := h.store.Value(node)
	assert.Equal(t, "suspend-now", v)
}

func TestFailedCycleKeepsDaemonRunning(t *testing.T) {
	h := start(t, 0, 1)
	h.cycler.mu.Lock()
	h.cycler.err = errors.New("suspend cycle failed during suspend")
	h.cycler.mu.Unlock()
	node := controlplane.ControlNodePath(1)

	h.store.Set(node, "suspend")
	require.Eventually(t, func() bool { return h.cycler.Calls() == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool {
		v, _ := h.store.Value(node)
		return v == ""
	}, waitFor, time.Millisecond)

	h.store.Set(node, "suspend")
	require.Eventually(t, func() bool { return h.cycler.Calls() == 2 }, waitFor, time.Millisecond)
}

func TestShutdownUnwatchesEverything(t *testing.T) {
	h := start(t, 0, 1, 2)

	require.NoError(t, h.stop(t))

	unwatched := h.store.Unwatched()
	for _, id := range []hypervisor.GuestID{0, 1, 2} {
		assert.Contains(t, unwatched, testutil.Registration{Path: controlplane.ControlNodePath(id), Token: controlplane.GuestToken(id)})
	}
	assert.Contains(t, unwatched, testutil.Registration{Path: controlplane.IntroduceDomainWatch, Token: controlplane.DomainListToken})
	assert.Contains(t, unwatched, testutil.Registration{Path: controlplane.ReleaseDomainWatch, Token: controlplane.DomainListToken})
	assert.Empty(t, h.store.Watches())
	assert.Zero(t, h.store.OpenConns())
	assert.Error(t, h.d.Ready())
}

func TestScopedSessions(t *testing.T) {
	h := start(t, 0, 1)

	h.store.Set(controlplane.ControlNodePath(1), "noop")
	require.Eventually(t, func() bool { return h.store.OpenConns() == 1 }, waitFor, time.Millisecond,
		"only the watch connection stays open")
	assert.Greater(t, h.store.Dials(), 1)
}

func TestStoreUnreachable(t *testing.T) {
	store := testutil.NewFakeStore()
	store.FailDial(errors.New("no xenstored"))

	err := daemon.New(store.Dial, &fakeCycler{}, testutil.DiscardLogger()).Run(context.Background())
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", daemon.Idle.String())
	assert.Equal(t, "handling-list-change", daemon.HandlingListChange.String())
	assert.Equal(t, "handling-suspend-request", daemon.HandlingSuspendRequest.String())
}
