package cell

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// activation is the in-memory presence of one cell instance on this node
// (spec.md's "Activation" in the GLOSSARY). Its loop() goroutine is the
// single logical worker that gives the cell its serial-execution guarantee
// — directly grounded on the teacher's registry.Cell.loop() batch-draining
// mailbox worker.
type activation struct {
	identity Identity
	spec     KindSpec
	instance Cell
	logger   *slog.Logger

	mailbox mailbox
	doneCh  chan struct{}

	// pending tracks in-flight + queued invocations so eviction never
	// passivates a cell that still has work outstanding.
	pending int64

	lastActivityUnix int64 // atomic, unix nanos

	stopOnce  sync.Once
	stopped   atomic.Bool
	activated atomic.Bool

	timers   map[string]*cellTimer
	timersMu sync.Mutex
}

func newActivation(identity Identity, spec KindSpec, instance Cell, logger *slog.Logger) *activation {
	a := &activation{
		identity:         identity,
		spec:             spec,
		instance:         instance,
		logger:           logger,
		mailbox:          newMailbox(spec.MailboxSize),
		doneCh:           make(chan struct{}),
		lastActivityUnix: time.Now().UnixNano(),
		timers:           make(map[string]*cellTimer),
	}
	go a.loop()
	return a
}

func (a *activation) touch() {
	atomic.StoreInt64(&a.lastActivityUnix, time.Now().UnixNano())
}

// isIdle matches registry.Cell.IsIdle: no pending work and the quiet period
// has elapsed.
func (a *activation) isIdle(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	if atomic.LoadInt64(&a.pending) > 0 {
		return false
	}
	last := time.Unix(0, atomic.LoadInt64(&a.lastActivityUnix))
	return time.Since(last) > timeout
}

// submit enqueues work and blocks for the result, or returns a Timeout
// error if ctx is cancelled first. Per spec.md §5, the callee keeps running
// to completion regardless — submit only stops the caller from waiting.
func (a *activation) submit(ctx context.Context, op string, fn func(context.Context, Cell) (any, error)) (any, error) {
	if a.stopped.Load() {
		return nil, errActivationStopped(a.identity)
	}

	atomic.AddInt64(&a.pending, 1)
	inv := &invocation{
		ctx:    withCallChain(ctx, a.identity),
		op:     op,
		fn:     fn,
		result: make(chan invocationResult, 1),
	}

	select {
	case a.mailbox <- inv:
	case <-a.doneCh:
		atomic.AddInt64(&a.pending, -1)
		return nil, errActivationStopped(a.identity)
	case <-ctx.Done():
		atomic.AddInt64(&a.pending, -1)
		return nil, errTimeout(a.identity, ctx.Err())
	}

	select {
	case res := <-inv.result:
		return res.val, res.err
	case <-ctx.Done():
		// The invocation still runs to completion inside loop(); its result
		// is simply never read by anyone. The caller observes Timeout.
		return nil, errTimeout(a.identity, ctx.Err())
	}
}

func (a *activation) loop() {
	for {
		select {
		case <-a.doneCh:
			return
		case inv := <-a.mailbox:
			a.run(inv)
			a.drainBurst()
		}
	}
}

// drainBurst mirrors the teacher's batch-draining strategy: once awake,
// keep consuming up to a bounded burst before returning to the expensive
// select, smoothing out bursts without starving the doneCh check.
func (a *activation) drainBurst() {
	for i := 0; i < 64; i++ {
		select {
		case inv := <-a.mailbox:
			a.run(inv)
		default:
			return
		}
	}
}

func (a *activation) run(inv *invocation) {
	defer atomic.AddInt64(&a.pending, -1)
	a.touch()

	if !a.activated.Load() {
		if act, ok := a.instance.(Activator); ok {
			if err := act.OnActivate(inv.ctx); err != nil {
				inv.result <- invocationResult{err: errActivationAborted(a.identity, err)}
				return
			}
		}
		a.activated.Store(true)
	}

	val, err := inv.fn(inv.ctx, a.instance)
	select {
	case inv.result <- invocationResult{val: val, err: err}:
	default:
	}
}

// reentrantInvoke is used when the call chain already contains this
// activation's identity: if the operation is interleavable the call runs
// inline on the caller's goroutine (which, by construction of the call
// chain, IS this activation's worker), bypassing the mailbox to avoid
// deadlocking against itself.
func (a *activation) reentrantInvoke(ctx context.Context, op string, fn func(context.Context, Cell) (any, error)) (any, error) {
	if !isInterleavable(a.instance, op) {
		return nil, errReentrant(a.identity, op)
	}
	return fn(ctx, a.instance)
}

// stop runs onDeactivate (if any) and halts the worker loop. Idempotent.
func (a *activation) stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		if deact, ok := a.instance.(Deactivator); ok && a.activated.Load() {
			if err := deact.OnDeactivate(ctx); err != nil {
				a.logger.Warn("CELL_DEACTIVATE_FAILED", slog.String("identity", a.identity.String()), slog.Any("err", err))
			}
		}
		a.cancelTimers()
		close(a.doneCh)
	})
}
