// Package storage implements the persistent key/value layer (spec.md §4.1):
// a pluggable Backend contract keyed by (cellKind, key, slot), a codec
// mapping per slot, and a retry+breaker wrapper that turns the backend's
// transient-failure class into the runtime's closed error kind.
package storage

import (
	"context"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// Etag is an opaque optimistic-concurrency token. The zero value (EtagNone)
// is reserved for "slot must not exist".
type Etag string

// EtagNone means "this slot must not currently exist" on Write, or "the slot
// does not exist" as returned from Read.
const EtagNone Etag = ""

// Key identifies a cell for storage purposes. CellKind and Key together
// match the runtime's cell identity (spec.md §3); Slot names one of the
// cell's persisted records.
type Key struct {
	CellKind string
	Key      string
	Slot     string
}

// Record is a persisted (payload, etag) pair.
type Record struct {
	Payload []byte
	Etag    Etag
}

// Backend is the durable key/value contract every cell kind's storage-bound
// slots are read and written through. Implementations must be safe for
// concurrent use from many goroutines — the cell runtime serializes calls
// per identity, not per backend.
type Backend interface {
	// Read fetches the current record. Returns a titanerr NotFound error if
	// the slot has never been written (or was cleared).
	Read(ctx context.Context, k Key) (Record, error)

	// Write stores payload if the slot's current etag equals expectedEtag
	// (EtagNone meaning "must not exist"), returning the new etag. Returns
	// a titanerr Conflict error on etag mismatch.
	Write(ctx context.Context, k Key, payload []byte, expectedEtag Etag) (Etag, error)

	// Clear removes the slot if its current etag equals expectedEtag.
	// Returns a titanerr Conflict error on etag mismatch.
	Clear(ctx context.Context, k Key, expectedEtag Etag) error
}

// notFound/conflict helpers keep the tagged-error construction uniform
// across backend implementations.
func errNotFound(k Key) error {
	return titanerr.New(titanerr.NotFound, "storage: slot %s/%s/%s not found", k.CellKind, k.Key, k.Slot)
}

func errConflict(k Key, have, want Etag) error {
	return titanerr.New(titanerr.Conflict, "storage: slot %s/%s/%s etag mismatch: have %q want %q", k.CellKind, k.Key, k.Slot, have, want)
}
