package txn

import "sync"

// Journal holds one participant's tentative, not-yet-visible mutations per
// transaction (spec.md's "Transaction Journal" in the GLOSSARY). A cell
// kind that joins transactions embeds a Journal[T] for whatever mutation
// shape its operations produce, stages into it during execute, and
// consults Take from its Participant.Commit/Abort implementation.
type Journal[T any] struct {
	mu     sync.Mutex
	staged map[TxId]T
}

func NewJournal[T any]() *Journal[T] {
	return &Journal[T]{staged: make(map[TxId]T)}
}

// Stage records (or replaces) the tentative mutation for tx. Execute-phase
// operations on the same tx call this repeatedly as they accumulate more
// tentative state; the cell's own merge logic decides how successive
// stages combine.
func (j *Journal[T]) Stage(tx TxId, mutation T) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.staged[tx] = mutation
}

// Peek returns the currently staged mutation without removing it.
func (j *Journal[T]) Peek(tx TxId) (T, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.staged[tx]
	return v, ok
}

// Take removes and returns the staged mutation, used at commit (apply it)
// or abort (discard it) — either way the journal entry for tx is gone
// afterward.
func (j *Journal[T]) Take(tx TxId) (T, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.staged[tx]
	delete(j.staged, tx)
	return v, ok
}
