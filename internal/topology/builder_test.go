package topology_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/internal/testutil"
	"github.com/xenpm/xensuspend/internal/topology"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

func TestBuildDependencies(t *testing.T) {
	store := testutil.NewFakeStore()
	for _, id := range []hypervisor.GuestID{0, 1, 2, 3} {
		store.AddGuest(id)
	}
	// 1 is a network driver domain backed by dom0, 2 uses it for vif and
	// dom0 for vbd, 3 has nothing recorded.
	store.AddDevice(1, "vbd", 51712, 0)
	store.AddDevice(2, "vif", 0, 1)
	store.AddDevice(2, "vbd", 51712, 0)
	store.AddDevice(2, "vbd", 51728, 0)

	b := topology.NewBuilder(store.Dial, testutil.DiscardLogger())
	g, err := b.BuildDependencies(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []hypervisor.GuestID{0, 1, 2, 3}, g.Guests())
	assert.Empty(t, g[0])
	assert.Equal(t, []hypervisor.GuestID{0}, g[1].Sorted())
	assert.Equal(t, []hypervisor.GuestID{0, 1}, g[2].Sorted())
	assert.Empty(t, g[3])
	assert.Zero(t, store.OpenConns(), "session must be released")

	// Guest 3 is unordered relative to everything, so only the edges
	// are checked.
	order, err := topology.SortSuspendOrder(g)
	require.NoError(t, err)
	require.Len(t, order, 4)
	for guest, providers := range g {
		for _, p := range providers.Sorted() {
			assert.Less(t, order.Index(guest), order.Index(p), "%d must suspend before its provider %d", guest, p)
		}
	}
}

func TestBuildDependenciesDropsSelfAndUnknownProviders(t *testing.T) {
	store := testutil.NewFakeStore()
	store.AddGuest(0)
	store.AddGuest(4)
	store.AddDevice(4, "vbd", 1, 4)
	store.AddDevice(4, "vif", 0, 12)

	g, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, g[4])
}

func TestBuildDependenciesSkipsVanishedDevice(t *testing.T) {
	store := testutil.NewFakeStore()
	store.AddGuest(0)
	store.AddGuest(1)
	store.AddDevice(1, "vif", 0, 0)
	store.Set("/libxl/1/device/vbd/51712/frontend", "/local/domain/1/device/vbd/51712")

	g, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []hypervisor.GuestID{0}, g[1].Sorted())
}

func TestBuildDependenciesDiscoveryErrors(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("store unreachable", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.FailDial(boom)

		_, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
		assert.True(t, errors.Is(err, topology.ErrDiscovery))
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("domain list unreadable", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.AddGuest(0)
		store.FailRead(controlplane.DomainRoot, boom)

		_, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
		assert.True(t, errors.Is(err, topology.ErrDiscovery))
	})

	t.Run("device subtree unreadable", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.AddGuest(0)
		store.AddGuest(2)
		store.AddDevice(2, "vif", 0, 0)
		store.FailRead(controlplane.DeviceRoot(2), boom)

		_, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
		var de *topology.DiscoveryError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, hypervisor.GuestID(2), de.Guest)
		assert.Equal(t, controlplane.DeviceRoot(2), de.Path)
		assert.Zero(t, store.OpenConns())
	})

	t.Run("malformed backend id", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.AddGuest(0)
		store.AddGuest(1)
		store.AddDevice(1, "vif", 0, 0)
		store.Set("/local/domain/1/device/vif/0/backend-id", "dom0")

		_, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
		assert.True(t, errors.Is(err, topology.ErrDiscovery))
	})

	t.Run("malformed guest entry", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.AddGuest(0)
		store.Set("/local/domain/pool/name", "x")

		_, err := topology.NewBuilder(store.Dial, testutil.DiscardLogger()).BuildDependencies(context.Background())
		assert.True(t, errors.Is(err, topology.ErrDiscovery))
	})
}
