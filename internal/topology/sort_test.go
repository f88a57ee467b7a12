package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

func graphOf(deps map[hypervisor.GuestID][]hypervisor.GuestID) Graph {
	g := make(Graph)
	for id, providers := range deps {
		g.Add(id, providers...)
	}
	return g
}

// assertRespectsEdges checks every guest appears once and every guest
// precedes its providers.
func assertRespectsEdges(t *testing.T, g Graph, order Order) {
	t.Helper()
	require.Len(t, order, len(g))
	seen := NewGuestSet()
	for _, id := range order {
		require.False(t, seen.Has(id), "guest %d listed twice", id)
		seen[id] = struct{}{}
	}
	for id, deps := range g {
		for p := range deps {
			assert.Less(t, order.Index(id), order.Index(p), "guest %d must suspend before its provider %d", id, p)
		}
	}
}

func TestSortSuspendOrderDriverDomains(t *testing.T) {
	g := graphOf(map[hypervisor.GuestID][]hypervisor.GuestID{
		0: {},
		1: {0},
		2: {1, 0},
		3: {0, 1},
		4: {1, 0, 3},
		5: {1, 0, 3, 2, 6},
		6: {0, 4},
	})

	order, err := SortSuspendOrder(g)
	require.NoError(t, err)
	assertRespectsEdges(t, g, order)

	resume := order.Reverse()
	for id, deps := range g {
		for p := range deps {
			assert.Less(t, resume.Index(p), resume.Index(id), "provider %d must resume before %d", p, id)
		}
	}
	assert.Equal(t, hypervisor.HostGuest, order[len(order)-1])
}

func TestSortSuspendOrderDoesNotModifyInput(t *testing.T) {
	g := graphOf(map[hypervisor.GuestID][]hypervisor.GuestID{0: {}, 1: {0}, 2: {1}})
	before := g.String()

	_, err := SortSuspendOrder(g)
	require.NoError(t, err)
	assert.Equal(t, before, g.String())
}

func TestSortSuspendOrderIndependentGuests(t *testing.T) {
	g := graphOf(map[hypervisor.GuestID][]hypervisor.GuestID{0: {}, 7: {}, 3: {}})

	order, err := SortSuspendOrder(g)
	require.NoError(t, err)
	assertRespectsEdges(t, g, order)
	assert.ElementsMatch(t, []hypervisor.GuestID{0, 3, 7}, order)
}

func TestSortSuspendOrderEmpty(t *testing.T) {
	order, err := SortSuspendOrder(Graph{})
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestSortSuspendOrderCycle(t *testing.T) {
	tests := []struct {
		name      string
		deps      map[hypervisor.GuestID][]hypervisor.GuestID
		remaining []hypervisor.GuestID
	}{
		{
			name:      "two guests",
			deps:      map[hypervisor.GuestID][]hypervisor.GuestID{1: {2}, 2: {1}},
			remaining: []hypervisor.GuestID{1, 2},
		},
		{
			name:      "self loop",
			deps:      map[hypervisor.GuestID][]hypervisor.GuestID{0: {}, 1: {1}},
			remaining: []hypervisor.GuestID{1},
		},
		{
			name:      "cycle behind a resolvable prefix",
			deps:      map[hypervisor.GuestID][]hypervisor.GuestID{0: {}, 1: {0}, 2: {3, 1}, 3: {4}, 4: {2}},
			remaining: []hypervisor.GuestID{2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := SortSuspendOrder(graphOf(tt.deps))
			require.Error(t, err)
			assert.Nil(t, order)
			assert.True(t, errors.Is(err, ErrCyclicDependency))

			var cyc *CyclicDependencyError
			require.True(t, errors.As(err, &cyc))
			assert.Equal(t, tt.remaining, cyc.Remaining.Guests())
		})
	}
}

func TestSortSuspendOrderDanglingProvider(t *testing.T) {
	g := graphOf(map[hypervisor.GuestID][]hypervisor.GuestID{0: {}, 1: {9}})

	_, err := SortSuspendOrder(g)
	var dangling *DanglingDependencyError
	require.True(t, errors.As(err, &dangling))
	assert.Equal(t, hypervisor.GuestID(1), dangling.Guest)
	assert.Equal(t, hypervisor.GuestID(9), dangling.Provider)
}

func TestOrderHelpers(t *testing.T) {
	o := Order{5, 6, 4}
	assert.Equal(t, Order{4, 6, 5}, o.Reverse())
	assert.Equal(t, Order{5, 6, 4}, o)
	assert.Equal(t, "5 6 4", o.String())
	assert.Equal(t, 1, o.Index(6))
	assert.Equal(t, -1, o.Index(9))
}

func TestGraphString(t *testing.T) {
	g := graphOf(map[hypervisor.GuestID][]hypervisor.GuestID{2: {1, 0}, 0: {}, 1: {0}})
	assert.Equal(t, "0 -> []; 1 -> [0]; 2 -> [0 1]", g.String())
}
