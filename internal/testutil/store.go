package testutil

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
	"github.com/xenpm/xensuspend/pkg/xenstore"
)

// Registration is an active watch held by a FakeConn.
type Registration struct {
	Path  string
	Token string
}

// FakeStore is an in-memory XenStore. Watches behave like xenstored's:
// each fires once when registered and again for every change at or
// below the watched path.
type FakeStore struct {
	mu      sync.Mutex
	nodes   map[string]string
	perms   map[string][]xenstore.Permission
	conns   []*FakeConn
	dials   int
	dialErr error
	readErr map[string]error

	unwatched []Registration
}

// NewFakeStore returns an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		nodes:   make(map[string]string),
		perms:   make(map[string][]xenstore.Permission),
		readErr: make(map[string]error),
	}
}

// Dial opens a new session; it matches controlplane.Dialer.
func (s *FakeStore) Dial(ctx context.Context) (controlplane.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	c := &FakeConn{store: s, events: make(chan xenstore.WatchEvent, 256)}
	s.conns = append(s.conns, c)
	s.dials++
	return c, nil
}

// FailDial makes every subsequent Dial return err (nil restores).
func (s *FakeStore) FailDial(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

// FailRead makes Read and List of p return err.
func (s *FakeStore) FailRead(p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr[p] = err
}

// Dials returns the number of sessions opened so far.
func (s *FakeStore) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// OpenConns returns the number of sessions not yet closed.
func (s *FakeStore) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

// Set writes value at p and fires matching watches.
func (s *FakeStore) Set(p, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[p] = value
	s.fireLocked(p)
}

// Value returns the value stored at p.
func (s *FakeStore) Value(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.nodes[p]
	return v, ok
}

// Permissions returns the permissions last set on p.
func (s *FakeStore) Permissions(p string) []xenstore.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]xenstore.Permission(nil), s.perms[p]...)
}

// Delete removes p and its subtree and fires matching watches.
func (s *FakeStore) Delete(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(p)
}

// AddGuest creates the guest's domain directory and fires
// @introduceDomain.
func (s *FakeStore) AddGuest(id hypervisor.GuestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[path.Join(controlplane.DomainRoot, id.String(), "domid")] = id.String()
	s.fireSpecialLocked(controlplane.IntroduceDomainWatch)
}

// RemoveGuest deletes everything the guest owns and fires
// @releaseDomain.
func (s *FakeStore) RemoveGuest(id hypervisor.GuestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(path.Join(controlplane.DomainRoot, id.String()))
	s.deleteLocked(path.Join(controlplane.LibxlRoot, id.String()))
	s.fireSpecialLocked(controlplane.ReleaseDomainWatch)
}

// AddDevice records a split device of guest whose backend runs in
// backend, the way libxl lays it out.
func (s *FakeStore) AddDevice(guest hypervisor.GuestID, kind string, devid int, backend hypervisor.GuestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := fmt.Sprint(devid)
	frontend := path.Join(controlplane.DomainRoot, guest.String(), "device", kind, dev)
	s.nodes[path.Join(controlplane.DeviceRoot(guest), kind, dev, "frontend")] = frontend
	s.nodes[path.Join(frontend, "backend-id")] = backend.String()
}

// Watches returns the registrations of every open session, sorted.
func (s *FakeStore) Watches() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Registration
	for _, c := range s.conns {
		if !c.closed {
			out = append(out, c.watches...)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Unwatched returns every registration removed by an explicit Unwatch,
// in call order.
func (s *FakeStore) Unwatched() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Registration(nil), s.unwatched...)
}

func (s *FakeStore) existsLocked(p string) bool {
	if _, ok := s.nodes[p]; ok {
		return true
	}
	prefix := p + "/"
	for k := range s.nodes {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (s *FakeStore) deleteLocked(p string) {
	prefix := p + "/"
	for k := range s.nodes {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(s.nodes, k)
			delete(s.perms, k)
		}
	}
	s.fireLocked(p)
}

func (s *FakeStore) fireLocked(changed string) {
	for _, c := range s.conns {
		if c.closed {
			continue
		}
		for _, w := range c.watches {
			if changed == w.Path || strings.HasPrefix(changed, w.Path+"/") {
				c.deliverLocked(xenstore.WatchEvent{Path: changed, Token: w.Token})
			}
		}
	}
}

func (s *FakeStore) fireSpecialLocked(special string) {
	for _, c := range s.conns {
		if c.closed {
			continue
		}
		for _, w := range c.watches {
			if w.Path == special {
				c.deliverLocked(xenstore.WatchEvent{Path: special, Token: w.Token})
			}
		}
	}
}

// FakeConn is one session on a FakeStore.
type FakeConn struct {
	store   *FakeStore
	events  chan xenstore.WatchEvent
	watches []Registration
	closed  bool
}

func (c *FakeConn) deliverLocked(ev xenstore.WatchEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *FakeConn) List(ctx context.Context, p string) ([]string, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr[p]; err != nil {
		return nil, err
	}
	if !s.existsLocked(p) {
		return nil, fmt.Errorf("%w: %s", xenstore.ErrNotFound, p)
	}
	prefix := p + "/"
	seen := make(map[string]bool)
	var names []string
	for k := range s.nodes {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *FakeConn) Read(ctx context.Context, p string) (string, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr[p]; err != nil {
		return "", err
	}
	if v, ok := s.nodes[p]; ok {
		return v, nil
	}
	if s.existsLocked(p) {
		return "", nil
	}
	return "", fmt.Errorf("%w: %s", xenstore.ErrNotFound, p)
}

func (c *FakeConn) Write(ctx context.Context, p, value string) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[p] = value
	s.fireLocked(p)
	return nil
}

func (c *FakeConn) Exists(ctx context.Context, p string) (bool, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(p), nil
}

func (c *FakeConn) Mkdir(ctx context.Context, p string) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(p) {
		s.nodes[p] = ""
		s.fireLocked(p)
	}
	return nil
}

func (c *FakeConn) SetPermissions(ctx context.Context, p string, perms []xenstore.Permission) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.existsLocked(p) {
		return fmt.Errorf("%w: %s", xenstore.ErrNotFound, p)
	}
	s.perms[p] = append([]xenstore.Permission(nil), perms...)
	return nil
}

func (c *FakeConn) Watch(ctx context.Context, p, token string) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	c.watches = append(c.watches, Registration{Path: p, Token: token})
	c.deliverLocked(xenstore.WatchEvent{Path: p, Token: token})
	return nil
}

func (c *FakeConn) Unwatch(ctx context.Context, p, token string) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range c.watches {
		if w.Path == p && w.Token == token {
			c.watches = append(c.watches[:i], c.watches[i+1:]...)
			s.unwatched = append(s.unwatched, w)
			return nil
		}
	}
	return fmt.Errorf("%w: watch %s %s", xenstore.ErrNotFound, p, token)
}

func (c *FakeConn) Events() <-chan xenstore.WatchEvent {
	return c.events
}

// Close drops the session's watches and closes its event stream.
func (c *FakeConn) Close() error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.watches = nil
	close(c.events)
	return nil
}
