// Package txn implements the two-phase-commit transaction coordinator of
// spec.md §4.4: execute (journal + lock), prepare (durable vote), commit or
// abort across the participant set enrolled by CreateOrJoin/Join cell
// operations.
package txn

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid"
)

// TxId is a monotonically sortable transaction identifier — ULIDs order by
// creation time even across nodes with loosely synchronized clocks, which
// is convenient for recovery scans over the durable transaction log.
type TxId string

var entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

func NewTxId() TxId {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return TxId(id.String())
}

func (t TxId) String() string { return string(t) }
