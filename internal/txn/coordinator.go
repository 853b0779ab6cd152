package txn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
	"golang.org/x/sync/errgroup"
)

const (
	coordinatorKind = "TxCoordinator"
	txStoreSlot     = "TransactionStore"
)

// record is the durable, self-describing-codec representation of a
// transaction's current state (spec.md §4.4's durability requirement),
// persisted independently of any participant's own primary slot.
type record struct {
	ID           TxId      `json:"id"`
	State        State     `json:"state"`
	Participants []string  `json:"participants"`
	StartedAt    time.Time `json:"startedAt"`
	Deadline     time.Time `json:"deadline"`
}

type transaction struct {
	mu           sync.Mutex
	id           TxId
	state        State
	deadline     time.Time
	etag         storage.Etag
	participants map[string]Participant
}

// Coordinator drives the two-phase commit protocol described in spec.md
// §4.4, directly grounded on the mantisdb DistributedTransactionCoordinator
// (Active→Preparing→Committed/Aborted state machine, concurrent participant
// fan-out), with the fan-out itself re-expressed using
// golang.org/x/sync/errgroup in place of the original's raw
// sync.WaitGroup + buffered error channel.
type Coordinator struct {
	store  *storage.SlotStore
	logger *slog.Logger

	mu     sync.Mutex
	active map[TxId]*transaction
}

func NewCoordinator(store *storage.SlotStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger,
		active: make(map[TxId]*transaction),
	}
}

// Handle is the caller-facing view of one in-flight transaction, returned
// by Begin and threaded through the cell operations that enroll in it.
type Handle struct {
	coord *Coordinator
	tx    *transaction
}

func (h *Handle) ID() TxId { return h.tx.id }

// Join enrolls a participant under identity. Safe to call multiple times
// for the same identity (a cell re-entering the same ambient transaction
// via Join, per spec.md §4.3's intent annotations) — the latest Participant
// value for that identity wins.
func (h *Handle) Join(identity string, p Participant) {
	h.tx.mu.Lock()
	defer h.tx.mu.Unlock()
	h.tx.participants[identity] = p
}

// Begin starts a new transaction with the given deadline, persisting its
// initial Active record.
func (c *Coordinator) Begin(ctx context.Context, deadline time.Duration) (*Handle, error) {
	tx := &transaction{
		id:           NewTxId(),
		state:        Active,
		deadline:     time.Now().Add(deadline),
		participants: make(map[string]Participant),
	}

	if err := c.persist(ctx, tx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.active[tx.id] = tx
	c.mu.Unlock()

	return &Handle{coord: c, tx: tx}, nil
}

func (c *Coordinator) persist(ctx context.Context, tx *transaction) error {
	rec := record{
		ID:        tx.id,
		State:     tx.state,
		StartedAt: time.Now(),
		Deadline:  tx.deadline,
	}
	for id := range tx.participants {
		rec.Participants = append(rec.Participants, id)
	}

	etag, err := c.store.Save(ctx, coordinatorKind, tx.id.String(), txStoreSlot, rec, tx.etag)
	if err != nil {
		return titanerr.Wrap(titanerr.Fatal, err, "txn: %s durable record write failed", tx.id)
	}
	tx.etag = etag
	return nil
}

// Commit runs the prepare phase against every joined participant and, if
// all vote to proceed, the commit phase. Any prepare failure aborts the
// whole transaction and the caller sees a Conflict error — clients are
// expected to retry (spec.md §4.4's serializable-isolation contract).
func (c *Coordinator) Commit(ctx context.Context, h *Handle) error {
	tx := h.tx
	prepareCtx, cancel := context.WithDeadline(ctx, tx.deadline)
	defer cancel()

	tx.mu.Lock()
	tx.state = Preparing
	participants := make(map[string]Participant, len(tx.participants))
	for id, p := range tx.participants {
		participants[id] = p
	}
	tx.mu.Unlock()

	if err := c.persist(ctx, tx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(prepareCtx)
	for id, p := range participants {
		id, p := id, p
		g.Go(func() error {
			if err := p.Prepare(gctx, tx.id); err != nil {
				return titanerr.Wrap(titanerr.Conflict, err, "txn: participant %s refused prepare", id)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.abort(ctx, tx, participants)
		return err
	}

	tx.mu.Lock()
	tx.state = Committed
	tx.mu.Unlock()
	if err := c.persist(ctx, tx); err != nil {
		return err
	}

	for id, p := range participants {
		if err := p.Commit(ctx, tx.id); err != nil {
			// Per spec.md §4.4's failure semantics, once the durable commit
			// record is written the transaction IS committed; a participant
			// that fails to apply it recovers by polling that record.
			c.logger.Warn("TXN_PARTICIPANT_COMMIT_FAILED", slog.String("tx", tx.id.String()), slog.String("participant", id), slog.Any("err", err))
		}
	}

	c.mu.Lock()
	delete(c.active, tx.id)
	c.mu.Unlock()
	return nil
}

// Abort aborts a transaction outright, e.g. because the initiating cell
// operation itself failed before requesting commit.
func (c *Coordinator) Abort(ctx context.Context, h *Handle) {
	tx := h.tx
	tx.mu.Lock()
	participants := make(map[string]Participant, len(tx.participants))
	for id, p := range tx.participants {
		participants[id] = p
	}
	tx.mu.Unlock()
	c.abort(ctx, tx, participants)
}

func (c *Coordinator) abort(ctx context.Context, tx *transaction, participants map[string]Participant) {
	tx.mu.Lock()
	tx.state = Aborted
	tx.mu.Unlock()

	if err := c.persist(ctx, tx); err != nil {
		c.logger.Warn("TXN_ABORT_RECORD_FAILED", slog.String("tx", tx.id.String()), slog.Any("err", err))
	}

	for id, p := range participants {
		if err := p.Abort(ctx, tx.id); err != nil {
			c.logger.Warn("TXN_PARTICIPANT_ABORT_FAILED", slog.String("tx", tx.id.String()), slog.String("participant", id), slog.Any("err", err))
		}
	}

	c.mu.Lock()
	delete(c.active, tx.id)
	c.mu.Unlock()
}
