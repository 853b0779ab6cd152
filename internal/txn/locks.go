package txn

import (
	"context"
	"sync"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// SlotLocks grants exclusive ownership of a `(cellId, slot)` key for the
// duration of one transaction's execute+prepare window (spec.md §5). Each
// key is backed by a 1-buffered channel used as a lock token; Acquire's
// wait is bounded by ctx, satisfying the deadlock-avoidance timeout the
// spec requires of lock waiters.
type SlotLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewSlotLocks() *SlotLocks {
	return &SlotLocks{locks: make(map[string]chan struct{})}
}

func (l *SlotLocks) tokenFor(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.locks[key] = ch
	}
	return ch
}

// Acquire blocks until key's lock is free or ctx is done, returning a
// release func to call exactly once.
func (l *SlotLocks) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.tokenFor(key)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, titanerr.Wrap(titanerr.Timeout, ctx.Err(), "txn: timed out waiting for lock on %q", key)
	}
}
