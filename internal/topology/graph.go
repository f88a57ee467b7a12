// Package topology discovers which guests provide backend devices to
// which other guests, and turns that into a safe suspend order.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
)

// GuestSet is an unordered set of guests.
type GuestSet map[hypervisor.GuestID]struct{}

// NewGuestSet returns a set holding ids.
func NewGuestSet(ids ...hypervisor.GuestID) GuestSet {
	s := make(GuestSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s GuestSet) Has(id hypervisor.GuestID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s GuestSet) Sorted() []hypervisor.GuestID {
	out := make([]hypervisor.GuestID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Graph maps each guest to the guests that provide its backends.
// Every guest in the system is a key, including those with no
// dependencies.
type Graph map[hypervisor.GuestID]GuestSet

// Add records that guest depends on each of providers. guest becomes a
// key even when providers is empty.
func (g Graph) Add(guest hypervisor.GuestID, providers ...hypervisor.GuestID) {
	deps, ok := g[guest]
	if !ok {
		deps = make(GuestSet)
		g[guest] = deps
	}
	for _, p := range providers {
		deps[p] = struct{}{}
	}
}

// Guests returns every key in ascending order.
func (g Graph) Guests() []hypervisor.GuestID {
	out := make([]hypervisor.GuestID, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy.
func (g Graph) Clone() Graph {
	c := make(Graph, len(g))
	for id, deps := range g {
		cp := make(GuestSet, len(deps))
		for d := range deps {
			cp[d] = struct{}{}
		}
		c[id] = cp
	}
	return c
}

// String renders the graph as "1 -> [0]; 2 -> [0 1]" in id order.
func (g Graph) String() string {
	parts := make([]string, 0, len(g))
	for _, id := range g.Guests() {
		parts = append(parts, fmt.Sprintf("%d -> %v", id, g[id].Sorted()))
	}
	return strings.Join(parts, "; ")
}

// Order is a sequence of guests.
type Order []hypervisor.GuestID

// Reverse returns a reversed copy. The reverse of a suspend order is a
// valid resume order.
func (o Order) Reverse() Order {
	r := make(Order, len(o))
	for i, id := range o {
		r[len(o)-1-i] = id
	}
	return r
}

// Index returns the position of id, or -1.
func (o Order) Index(id hypervisor.GuestID) int {
	for i, g := range o {
		if g == id {
			return i
		}
	}
	return -1
}

func (o Order) String() string {
	parts := make([]string, len(o))
	for i, id := range o {
		parts[i] = id.String()
	}
	return strings.Join(parts, " ")
}
