package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/xenpm/xensuspend/internal/controlplane"
	"github.com/xenpm/xensuspend/pkg/hypervisor"
	"github.com/xenpm/xensuspend/pkg/xenstore"
)

// Builder builds the dependency graph of the running guests.
type Builder struct {
	dial   controlplane.Dialer
	logger *slog.Logger
}

// NewBuilder returns a Builder that opens a fresh session per build.
func NewBuilder(dial controlplane.Dialer, logger *slog.Logger) *Builder {
	return &Builder{dial: dial, logger: logger}
}

// BuildDependencies enumerates the guests and returns, for each, the set
// of guests that run its device backends.
func (b *Builder) BuildDependencies(ctx context.Context) (Graph, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	defer conn.Close()
	return Discover(ctx, conn, b.logger)
}

// Discover builds the graph from store. A guest without a device subtree
// depends on nothing. Self references and providers that are not
// running guests are dropped.
func Discover(ctx context.Context, store controlplane.Store, logger *slog.Logger) (Graph, error) {
	guests, err := controlplane.ListGuests(ctx, store)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	known := NewGuestSet(guests...)

	g := make(Graph, len(guests))
	for _, id := range guests {
		providers, err := backendsOf(ctx, store, id, logger)
		if err != nil {
			return nil, err
		}
		g.Add(id)
		for _, p := range providers.Sorted() {
			switch {
			case p == id:
				logger.Debug("ignoring self-hosted backend", "guest", id)
			case !known.Has(p):
				logger.Warn("backend provider is not a running guest", "guest", id, "provider", p)
			default:
				g.Add(id, p)
			}
		}
	}
	return g, nil
}

func backendsOf(ctx context.Context, store controlplane.Store, id hypervisor.GuestID, logger *slog.Logger) (GuestSet, error) {
	providers := make(GuestSet)
	root := controlplane.DeviceRoot(id)

	kinds, err := store.List(ctx, root)
	if errors.Is(err, xenstore.ErrNotFound) {
		return providers, nil
	}
	if err != nil {
		return nil, &DiscoveryError{Guest: id, Path: root, Err: err}
	}

	for _, kind := range kinds {
		kindPath := path.Join(root, kind)
		devices, err := store.List(ctx, kindPath)
		if err != nil {
			if errors.Is(err, xenstore.ErrNotFound) {
				continue
			}
			return nil, &DiscoveryError{Guest: id, Path: kindPath, Err: err}
		}
		for _, dev := range devices {
			p, found, err := backendOf(ctx, store, id, path.Join(kindPath, dev))
			if err != nil {
				return nil, err
			}
			if !found {
				logger.Debug("device vanished during discovery", "guest", id, "device", path.Join(kind, dev))
				continue
			}
			providers[p] = struct{}{}
		}
	}
	return providers, nil
}

// backendOf follows a toolstack device record to the frontend and reads
// the backend domain the frontend is connected to.
func backendOf(ctx context.Context, store controlplane.Store, id hypervisor.GuestID, devPath string) (hypervisor.GuestID, bool, error) {
	ref := path.Join(devPath, "frontend")
	frontend, err := store.Read(ctx, ref)
	if errors.Is(err, xenstore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &DiscoveryError{Guest: id, Path: ref, Err: err}
	}
	frontend = strings.TrimSpace(frontend)
	if !strings.HasPrefix(frontend, "/") {
		return 0, false, &DiscoveryError{Guest: id, Path: ref, Err: fmt.Errorf("malformed frontend path %q", frontend)}
	}

	idPath := path.Join(frontend, "backend-id")
	raw, err := store.Read(ctx, idPath)
	if errors.Is(err, xenstore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &DiscoveryError{Guest: id, Path: idPath, Err: err}
	}
	backend, err := hypervisor.ParseGuestID(strings.TrimSpace(raw))
	if err != nil {
		return 0, false, &DiscoveryError{Guest: id, Path: idPath, Err: fmt.Errorf("malformed backend id %q: %w", raw, err)}
	}
	return backend, true, nil
}
