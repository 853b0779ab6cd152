package cell

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/titan-mmo/titan/internal/titanerr"
	"golang.org/x/sync/singleflight"
)

// defaultReplicaFanout bounds how many concurrently-active replicas a
// StatelessWorker kind gets on one node (spec.md §4.2's "small pool").
const defaultReplicaFanout = 4

// Runtime hosts activations local to this node: one mailbox-backed worker
// per identity (or, for stateless-worker kinds, a small pool of them),
// lifecycle management, and the reentrant-call guard. Cross-node placement
// lives one layer up in internal/cluster, which resolves an Identity to a
// node and only calls into a Runtime once it knows the call belongs here.
type Runtime struct {
	logger *slog.Logger

	mu          sync.RWMutex
	activations map[Identity]*activation
	workerPool  map[Identity][]*activation // stateless-worker kinds only
	kinds       map[string]KindSpec

	activateGroup singleflight.Group
	nextReplica   atomic.Uint64
	replicaFanout int

	evictInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// Option configures a Runtime.
type Option func(*Runtime)

func WithEvictInterval(d time.Duration) Option {
	return func(r *Runtime) { r.evictInterval = d }
}

// WithReplicaFanout caps how many replicas a StatelessWorker kind may keep
// active per identity on this node. Zero or negative falls back to
// defaultReplicaFanout.
func WithReplicaFanout(n int) Option {
	return func(r *Runtime) { r.replicaFanout = n }
}

func NewRuntime(logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		logger:        logger,
		activations:   make(map[Identity]*activation),
		workerPool:    make(map[Identity][]*activation),
		kinds:         make(map[string]KindSpec),
		evictInterval: 30 * time.Second,
		replicaFanout: defaultReplicaFanout,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.replicaFanout <= 0 {
		r.replicaFanout = defaultReplicaFanout
	}
	go r.runEvictor()
	return r
}

// Register declares a cell kind's activation policy. Must be called before
// any Invoke targeting that kind.
func (r *Runtime) Register(spec KindSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[spec.Kind] = spec
}

// Invoke runs fn against the named identity's single logical worker,
// applying the reentrant-call guard and activation-on-demand semantics of
// spec.md §4.2. op names the operation, used for logging and for the
// target cell's own Interleavable(op) decision on a reentrant call.
func (r *Runtime) Invoke(ctx context.Context, id Identity, op string, fn func(ctx context.Context, self Cell) (any, error)) (any, error) {
	if callChainFrom(ctx).contains(id) {
		act, ok := r.lookup(id)
		if !ok {
			return nil, titanerr.New(titanerr.Fatal, "cell: %s vanished mid-reentrant-call", id)
		}
		return act.reentrantInvoke(ctx, op, fn)
	}

	act, err := r.getOrActivate(ctx, id)
	if err != nil {
		return nil, err
	}
	return act.submit(ctx, op, fn)
}

func (r *Runtime) lookup(id Identity) (*activation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	act, ok := r.activations[id]
	return act, ok
}

// getOrActivate resolves an existing activation or creates one, collapsing
// concurrent first-call races onto a single singleflight group keyed by
// identity string (grounded on the teacher's sync.Map LoadOrStore idiom,
// generalized with x/sync/singleflight so the factory — which may run
// OnActivate-triggering storage reads — only executes once per race).
// StatelessWorker kinds skip the single-activation path entirely and fan out
// across a small replica pool instead (spec.md §4.2).
func (r *Runtime) getOrActivate(ctx context.Context, id Identity) (*activation, error) {
	spec, ok := r.kindSpec(id.Kind)
	if !ok {
		return nil, titanerr.New(titanerr.Fatal, "cell: kind %q is not registered", id.Kind)
	}
	if spec.StatelessWorker {
		return r.getOrActivateReplica(id, spec)
	}

	if act, ok := r.lookup(id); ok && !act.stopped.Load() {
		return act, nil
	}

	v, err, _ := r.activateGroup.Do(id.String(), func() (any, error) {
		if act, ok := r.lookup(id); ok && !act.stopped.Load() {
			return act, nil
		}
		instance, ferr := spec.New(id)
		if ferr != nil {
			return nil, titanerr.Wrap(titanerr.Transient, ferr, "cell: %s activation factory failed", id)
		}
		act := newActivation(id, spec, instance, r.logger)
		if tu, ok := instance.(TimerUser); ok {
			tu.BindTimers(&Timers{act: act})
		}

		r.mu.Lock()
		r.activations[id] = act
		r.mu.Unlock()
		return act, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*activation), nil
}

// liveReplicas filters out replicas a prior eviction/shutdown already
// stopped, so a stale pool entry is never handed back to a caller.
func liveReplicas(pool []*activation) []*activation {
	live := pool[:0]
	for _, act := range pool {
		if !act.stopped.Load() {
			live = append(live, act)
		}
	}
	return live
}

// getOrActivateReplica picks a replica round-robin once the pool is at
// capacity, or grows the pool (bounded by r.replicaFanout) when it isn't.
// Growth is intentionally not funneled through singleflight: unlike the
// single-activation path, concurrent callers below the cap are SUPPOSED to
// land on distinct replicas, not collapse onto one.
func (r *Runtime) getOrActivateReplica(id Identity, spec KindSpec) (*activation, error) {
	r.mu.Lock()
	pool := liveReplicas(r.workerPool[id])
	if len(pool) >= r.replicaFanout {
		idx := int(r.nextReplica.Add(1)-1) % len(pool)
		chosen := pool[idx]
		r.workerPool[id] = pool
		r.mu.Unlock()
		return chosen, nil
	}
	r.workerPool[id] = pool
	r.mu.Unlock()

	instance, ferr := spec.New(id)
	if ferr != nil {
		return nil, titanerr.Wrap(titanerr.Transient, ferr, "cell: %s activation factory failed", id)
	}
	act := newActivation(id, spec, instance, r.logger)
	if tu, ok := instance.(TimerUser); ok {
		tu.BindTimers(&Timers{act: act})
	}

	r.mu.Lock()
	r.workerPool[id] = append(liveReplicas(r.workerPool[id]), act)
	r.mu.Unlock()
	return act, nil
}

// Evict forcibly passivates an identity's local activation(s) — its single
// activation, or its whole replica pool for a StatelessWorker kind — used by
// the cluster directory after a membership change relocates ownership
// elsewhere, or by admin tooling.
func (r *Runtime) Evict(ctx context.Context, id Identity) {
	r.mu.Lock()
	act, ok := r.activations[id]
	if ok {
		delete(r.activations, id)
	}
	pool := r.workerPool[id]
	delete(r.workerPool, id)
	r.mu.Unlock()

	if ok {
		act.stop(ctx)
	}
	for _, replica := range pool {
		replica.stop(ctx)
	}
}

// Shutdown passivates every local activation in turn (orderly shutdown,
// spec.md §4.2).
func (r *Runtime) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	all := make([]*activation, 0, len(r.activations))
	for id, act := range r.activations {
		all = append(all, act)
		delete(r.activations, id)
	}
	for id, pool := range r.workerPool {
		all = append(all, pool...)
		delete(r.workerPool, id)
	}
	r.mu.Unlock()

	for _, act := range all {
		act.stop(ctx)
	}
}

func (r *Runtime) kindSpec(kind string) (KindSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.kinds[kind]
	return spec, ok
}

// runEvictor passivates idle activations on a schedule — the Runtime-level
// analog of the teacher's Hub.runEvictor/performEviction janitor.
func (r *Runtime) runEvictor() {
	ticker := time.NewTicker(r.evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.performEviction()
		}
	}
}

func (r *Runtime) performEviction() {
	r.mu.Lock()
	var idle []*activation
	for id, act := range r.activations {
		spec, ok := r.kinds[id.Kind]
		if !ok {
			continue
		}
		if act.isIdle(spec.IdleTimeout) {
			idle = append(idle, act)
			delete(r.activations, id)
		}
	}
	for id, pool := range r.workerPool {
		spec, ok := r.kinds[id.Kind]
		if !ok {
			continue
		}
		var kept []*activation
		for _, act := range pool {
			if act.isIdle(spec.IdleTimeout) {
				idle = append(idle, act)
				continue
			}
			kept = append(kept, act)
		}
		if len(kept) == 0 {
			delete(r.workerPool, id)
		} else {
			r.workerPool[id] = kept
		}
	}
	r.mu.Unlock()

	for _, act := range idle {
		act.stop(context.Background())
	}
	if len(idle) > 0 {
		r.logger.Debug("CELLS_PASSIVATED", slog.Int("count", len(idle)))
	}
}
