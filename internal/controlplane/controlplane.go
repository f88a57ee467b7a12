// Package controlplane defines the view of the XenStore tree that the
// suspend coordinator consumes, and the paths it reads and writes.
package controlplane

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/xenpm/xensuspend/pkg/hypervisor"
	"github.com/xenpm/xensuspend/pkg/xenstore"
)

// Well-known paths, watch specials and tokens.
const (
	DomainRoot = "/local/domain"
	LibxlRoot  = "/libxl"

	IntroduceDomainWatch = "@introduceDomain"
	ReleaseDomainWatch   = "@releaseDomain"

	// DomainListToken tags the global guest appear/disappear watches.
	DomainListToken = "domain"

	// SuspendRequest is the only command a guest may write to its
	// control node today.
	SuspendRequest = "suspend"
)

// Store is the read/write surface of the control-plane tree.
type Store interface {
	List(ctx context.Context, path string) ([]string, error)
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, value string) error
	Exists(ctx context.Context, path string) (bool, error)
	Mkdir(ctx context.Context, path string) error
	SetPermissions(ctx context.Context, path string, perms []xenstore.Permission) error
}

// Watcher manages watch registrations on one connection.
type Watcher interface {
	Watch(ctx context.Context, path, token string) error
	Unwatch(ctx context.Context, path, token string) error
	Events() <-chan xenstore.WatchEvent
}

// Conn is one control-plane session. Callers close it when the logical
// operation it was opened for is done.
type Conn interface {
	Store
	Watcher
	Close() error
}

// Dialer opens a new session.
type Dialer func(ctx context.Context) (Conn, error)

// XenstoreDialer returns a Dialer that connects to xenstored at path.
func XenstoreDialer(storePath string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := xenstore.Dial(ctx, storePath)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// RetryingXenstoreDialer is XenstoreDialer with backoff, for sessions
// opened while xenstored may still be starting.
func RetryingXenstoreDialer(storePath string, attempts uint64) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := xenstore.DialRetry(ctx, storePath, attempts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ControlNodePath is where guest id writes its suspend requests.
func ControlNodePath(id hypervisor.GuestID) string {
	return path.Join(DomainRoot, id.String(), "control", "system-suspend-req")
}

// ControlNodePermissions restricts a control node to its guest. The
// first entry makes dom0 the owner and denies everyone else; the second
// lets the guest write.
func ControlNodePermissions(id hypervisor.GuestID) []xenstore.Permission {
	return []xenstore.Permission{
		{Domain: uint32(hypervisor.HostGuest), Access: xenstore.AccessNone},
		{Domain: uint32(id), Access: xenstore.AccessWrite},
	}
}

// DeviceRoot is the toolstack's record of the devices attached to id.
func DeviceRoot(id hypervisor.GuestID) string {
	return path.Join(LibxlRoot, id.String(), "device")
}

// GuestToken is the watch token for a guest's control node.
func GuestToken(id hypervisor.GuestID) string {
	return id.String()
}

// ListGuests returns the ids of all guests known to the store, sorted.
func ListGuests(ctx context.Context, store Store) ([]hypervisor.GuestID, error) {
	names, err := store.List(ctx, DomainRoot)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", DomainRoot, err)
	}
	ids := make([]hypervisor.GuestID, 0, len(names))
	for _, name := range names {
		id, err := hypervisor.ParseGuestID(name)
		if err != nil {
			return nil, fmt.Errorf("malformed guest entry %s/%s: %w", DomainRoot, name, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
