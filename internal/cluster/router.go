package cluster

import (
	"context"
	"log/slog"
	"sync"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// locator is the subset of *Directory's contract Router depends on. Kept as
// an interface so Router's own dispatch logic — which node owns an
// identity, whether ownership needs claiming — can be unit tested without a
// live consul cluster backing IsLocal/AcquireOwnership.
type locator interface {
	IsLocal(ctx context.Context, id cell.Identity) (bool, error)
	AcquireOwnership(ctx context.Context, id cell.Identity) (Lease, error)
}

// RemoteInvoker forwards an Invoke call to whichever node currently owns
// identity. No implementation ships yet: Titan has no peer-to-peer RPC
// client (the only grpc.Server in the tree faces gateway clients, not other
// silos), so a Router without one simply refuses remote identities rather
// than silently invoking the wrong node's local copy.
type RemoteInvoker interface {
	Invoke(ctx context.Context, node Node, id cell.Identity, op string, args []byte) ([]byte, error)
}

// Router is the directory-aware entry point spec.md §4.2 step 1 describes:
// resolve (kind, key) via the directory, claim this node's ownership lease
// before the first local activation, and only then hand the call to the
// node-local Runtime. Non-local identities are rejected with a Fatal error;
// when a RemoteInvoker is configured the owning node is resolved and
// logged, but the call is not forwarded to it.
type Router struct {
	runtime *cell.Runtime
	locator locator
	remote  RemoteInvoker
	logger  *slog.Logger

	mu    sync.Mutex
	owned map[string]struct{}
}

// NewRouter builds a cluster-aware Router backed by a real Directory — the
// production wiring, where IsLocal/AcquireOwnership cost a consul round
// trip (the first is cached, the second happens once per identity).
func NewRouter(runtime *cell.Runtime, directory *Directory, remote RemoteInvoker, logger *slog.Logger) *Router {
	return newRouter(runtime, directory, remote, logger)
}

// NewLocalRouter builds a Router for single-node deployments and tests:
// every identity is considered owned by this node and ownership is never
// contested, so it needs no consul (or any other cluster) connectivity at
// all. This is the mode cluster.Module falls back to when
// Cluster.MembershipStore isn't configured, and the mode every
// internal/game-style package test uses.
func NewLocalRouter(runtime *cell.Runtime, logger *slog.Logger) *Router {
	return newRouter(runtime, alwaysLocal{}, nil, logger)
}

func newRouter(runtime *cell.Runtime, loc locator, remote RemoteInvoker, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		runtime: runtime,
		locator: loc,
		remote:  remote,
		logger:  logger,
		owned:   make(map[string]struct{}),
	}
}

// alwaysLocal is the locator behind NewLocalRouter: no directory, no
// network, every identity belongs to this node by definition.
type alwaysLocal struct{}

func (alwaysLocal) IsLocal(ctx context.Context, id cell.Identity) (bool, error) { return true, nil }
func (alwaysLocal) AcquireOwnership(ctx context.Context, id cell.Identity) (Lease, error) {
	return Lease{}, nil
}

// Register declares a cell kind against the wrapped node-local Runtime.
// Kind registration is process bookkeeping, identical on every node, so it
// passes straight through without consulting the directory.
func (r *Router) Register(spec cell.KindSpec) { r.runtime.Register(spec) }

// Invoke resolves identity's owning node before the call ever reaches the
// node-local Runtime, enforcing spec.md §3's "an identity maps to at most
// one active replica in the cluster at any instant" instead of letting
// every node independently activate whatever identity a caller happens to
// hand it.
func (r *Router) Invoke(ctx context.Context, id cell.Identity, op string, fn func(context.Context, cell.Cell) (any, error)) (any, error) {
	local, err := r.locator.IsLocal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !local {
		return r.invokeRemote(ctx, id, op)
	}
	if err := r.claimOwnership(ctx, id); err != nil {
		return nil, err
	}
	return r.runtime.Invoke(ctx, id, op, fn)
}

// claimOwnership acquires identity's fencing lease the first time this
// Router sees it go local, then remembers that it did — AcquireOwnership is
// a consul CAS round trip and spec.md's Lease contract only requires it
// once per activation, not once per call.
func (r *Router) claimOwnership(ctx context.Context, id cell.Identity) error {
	key := id.String()

	r.mu.Lock()
	_, already := r.owned[key]
	r.mu.Unlock()
	if already {
		return nil
	}

	if _, err := r.locator.AcquireOwnership(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	r.owned[key] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Forget drops a cached ownership claim, used alongside Runtime.Evict when
// the directory moves an identity to another node so the next local Invoke
// (if any) re-claims rather than trusting a stale lease.
func (r *Router) Forget(id cell.Identity) {
	r.mu.Lock()
	delete(r.owned, id.String())
	r.mu.Unlock()
}

func (r *Router) invokeRemote(ctx context.Context, id cell.Identity, op string) (any, error) {
	if r.remote == nil {
		return nil, titanerr.New(titanerr.Fatal, "cluster: %s is owned by another node and no peer transport is configured", id)
	}
	node, err := r.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("ROUTER_FORWARDING", slog.String("identity", id.String()), slog.String("op", op), slog.String("node", node.ID))
	return nil, titanerr.New(titanerr.Fatal, "cluster: remote invocation of %s on node %s is not implemented", id, node.ID)
}

// locate resolves identity's owning Node for logging/forwarding, using the
// same locator already consulted by IsLocal. A pure locator (like
// alwaysLocal) never reaches this path since it always answers local.
func (r *Router) locate(ctx context.Context, id cell.Identity) (Node, error) {
	type locating interface {
		Locate(ctx context.Context, id cell.Identity) (Node, error)
	}
	if d, ok := r.locator.(locating); ok {
		return d.Locate(ctx, id)
	}
	return Node{}, titanerr.New(titanerr.Fatal, "cluster: %s is remote but this locator cannot resolve which node owns it", id)
}
