package topology

import "github.com/xenpm/xensuspend/pkg/hypervisor"

// SortSuspendOrder returns an order in which every guest is suspended
// before the guests that provide its backends. g is not modified.
//
// Among guests that are ready at the same step the smallest id is
// peeled first, so a dependency-free guest 0 ends up last to suspend.
func SortSuspendOrder(g Graph) (Order, error) {
	for _, id := range g.Guests() {
		for _, p := range g[id].Sorted() {
			if _, ok := g[p]; !ok {
				return nil, &DanglingDependencyError{Guest: id, Provider: p}
			}
		}
	}

	remaining := g.Clone()
	peeled := make(Order, 0, len(g))
	for len(remaining) > 0 {
		ready, ok := nextReady(remaining)
		if !ok {
			return nil, &CyclicDependencyError{Remaining: remaining}
		}
		delete(remaining, ready)
		for _, deps := range remaining {
			delete(deps, ready)
		}
		peeled = append(peeled, ready)
	}
	return peeled.Reverse(), nil
}

func nextReady(g Graph) (id hypervisor.GuestID, ok bool) {
	for _, id := range g.Guests() {
		if len(g[id]) == 0 {
			return id, true
		}
	}
	return 0, false
}
