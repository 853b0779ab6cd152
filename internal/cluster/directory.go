package cluster

import (
	"context"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// Directory answers "which node owns this identity right now" (spec.md
// §4.3), keeping a consistent-hash ring over the live membership set and a
// small LRU so repeated calls for the same hot identity skip the ring walk.
type Directory struct {
	membership *Membership
	fencing    *Fencing
	ring       *Ring[Node]
	cache      *lru.Cache[string, Node]
	logger     *slog.Logger

	refreshEvery time.Duration
	stopCh       chan struct{}
}

func NewDirectory(membership *Membership, fencing *Fencing, logger *slog.Logger) *Directory {
	// [MEMORY_MANAGEMENT] bounded cache, sized generously for a single
	// node's working set of hot identities.
	cache, _ := lru.New[string, Node](50000)
	return &Directory{
		membership:   membership,
		fencing:      fencing,
		ring:         NewRing[Node](160),
		cache:        cache,
		logger:       logger,
		refreshEvery: 3 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// Start primes the ring from current membership and begins polling for
// changes. Safe to call once per Directory.
func (d *Directory) Start(ctx context.Context) error {
	if err := d.refresh(ctx); err != nil {
		return err
	}
	go d.loop()
	return nil
}

func (d *Directory) Stop() { close(d.stopCh) }

func (d *Directory) loop() {
	ticker := time.NewTicker(d.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.refresh(context.Background()); err != nil {
				d.logger.Warn("DIRECTORY_REFRESH_FAILED", slog.Any("err", err))
			}
		}
	}
}

func (d *Directory) refresh(ctx context.Context) error {
	nodes, err := d.membership.List(ctx)
	if err != nil {
		return err
	}
	d.ring.Set(nodes)
	// A membership change can move ownership for arbitrary keys, so the
	// cache is invalidated wholesale rather than selectively.
	d.cache.Purge()
	return nil
}

// Locate resolves the node currently responsible for identity.
func (d *Directory) Locate(ctx context.Context, identity cell.Identity) (Node, error) {
	key := identity.String()
	if node, ok := d.cache.Get(key); ok {
		return node, nil
	}
	node, err := d.ring.Get(key)
	if err != nil {
		return Node{}, err
	}
	d.cache.Add(key, node)
	return node, nil
}

// IsLocal reports whether identity currently belongs to this node, the
// question a gateway or cell-to-cell caller asks before deciding whether
// to invoke Runtime directly or forward over the wire.
func (d *Directory) IsLocal(ctx context.Context, identity cell.Identity) (bool, error) {
	node, err := d.Locate(ctx, identity)
	if err != nil {
		return false, err
	}
	return node.ID == d.membership.Self().ID, nil
}

// AcquireOwnership claims identity's fencing-token lease for this node —
// called once, lazily, the first time this node activates an identity
// locally, so a stale former owner's in-flight call can be rejected by a
// lower generation number even if placement already moved on.
func (d *Directory) AcquireOwnership(ctx context.Context, identity cell.Identity) (Lease, error) {
	local, err := d.IsLocal(ctx, identity)
	if err != nil {
		return Lease{}, err
	}
	if !local {
		return Lease{}, titanerr.New(titanerr.Conflict, "directory: %s is not owned by this node", identity)
	}
	return d.fencing.Acquire(ctx, identity.String(), d.membership.Self())
}
