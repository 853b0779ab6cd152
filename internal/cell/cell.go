package cell

import (
	"context"
	"time"
)

// Cell is the minimal contract every activated entity satisfies. Domain
// packages (internal/game, internal/gateway's presence cells, etc.) embed a
// concrete struct that also implements whichever of Activator/Deactivator/
// Interleaver it needs.
type Cell interface {
	Identity() Identity
}

// Invoker is what domain packages actually depend on: declare a kind, then
// invoke operations against identities of that kind. *Runtime satisfies it
// directly for single-node use; internal/cluster.Router satisfies it too,
// adding directory-aware placement in front of the same node-local Runtime.
// Keeping this as an interface (rather than every domain constructor taking
// a concrete *Runtime) is what lets cluster wrap Invoke without every
// caller's construction code or tests changing shape.
type Invoker interface {
	Register(spec KindSpec)
	Invoke(ctx context.Context, id Identity, op string, fn func(context.Context, Cell) (any, error)) (any, error)
}

// Activator is implemented by cells that need to load state before their
// first invocation runs (spec.md §4.2: "onActivate runs before the first
// invocation. It may read state slots.").
type Activator interface {
	OnActivate(ctx context.Context) error
}

// Deactivator is implemented by cells that need to do cleanup after the
// last invocation completes and no new calls are pending, or on orderly
// shutdown. Must be idempotent.
type Deactivator interface {
	OnDeactivate(ctx context.Context) error
}

// Interleaver lets a cell mark specific operations as safe to interleave
// with an outer call already in flight on the same identity — the only
// way a nested call into the same identity avoids the reentrant-call error
// (spec.md §4.2).
type Interleaver interface {
	Interleavable(op string) bool
}

func isInterleavable(c Cell, op string) bool {
	il, ok := c.(Interleaver)
	return ok && il.Interleavable(op)
}

// Factory constructs a new, un-activated Cell instance for the given
// identity. The runtime calls OnActivate (if implemented) on the cell's
// worker before the first invocation it runs.
type Factory func(identity Identity) (Cell, error)

// KindSpec declares a cell kind's activation policy.
type KindSpec struct {
	Kind string
	New  Factory

	// IdleTimeout passivates the cell after this long without traffic
	// (spec.md §4.2). Zero disables idle passivation (e.g. singleton
	// config cells that are cheap to keep warm).
	IdleTimeout time.Duration

	// StatelessWorker permits several concurrently-active replicas of the
	// same identity on one node for read fan-out (spec.md §4.2). Such
	// cells must not rely on state across calls.
	StatelessWorker bool

	// MailboxSize bounds how many pending invocations queue before a
	// caller blocks. Mirrors the teacher's per-user mailbox buffer.
	MailboxSize int
}
