package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const ticketKind = "ConnectionTicket"

// ticketCell is the single-use connection ticket spec.md §4.6 requires:
// "the gateway's stream-auth handler validates and consumes the ticket
// via a cell". Not persisted — a ticket's TTL is short enough that losing
// one to a node restart just means the client retries issueTicket.
type ticketCell struct {
	identity  cell.Identity
	principal Principal
	expiresAt time.Time
	consumed  bool
}

func (t *ticketCell) Identity() cell.Identity { return t.identity }

// Tickets issues and consumes connection tickets against a cell.Invoker.
type Tickets struct {
	runtime  cell.Invoker
	lifetime time.Duration
}

func NewTickets(runtime cell.Invoker, lifetime time.Duration) *Tickets {
	runtime.Register(cell.KindSpec{
		Kind:        ticketKind,
		New:         func(id cell.Identity) (cell.Cell, error) { return &ticketCell{identity: id}, nil },
		IdleTimeout: lifetime,
	})
	return &Tickets{runtime: runtime, lifetime: lifetime}
}

// Issue mints a new ticket bound to principal.
func (t *Tickets) Issue(ctx context.Context, principal Principal) (string, error) {
	ticketID := uuid.NewString()
	id := cell.New(ticketKind, cell.StringKey(ticketID))
	_, err := t.runtime.Invoke(ctx, id, "issue", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*ticketCell)
		tc.principal = principal
		tc.expiresAt = time.Now().Add(t.lifetime)
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return ticketID, nil
}

// Consume validates and one-shot-consumes ticketID, returning the bound
// principal. A second call for the same ticketID fails with NotFound.
func (t *Tickets) Consume(ctx context.Context, ticketID string) (Principal, error) {
	id := cell.New(ticketKind, cell.StringKey(ticketID))
	v, err := t.runtime.Invoke(ctx, id, "consume", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*ticketCell)
		if tc.consumed {
			return nil, titanerr.New(titanerr.NotFound, "gateway: ticket %s already consumed", ticketID)
		}
		if tc.expiresAt.IsZero() {
			return nil, titanerr.New(titanerr.NotFound, "gateway: ticket %s not found", ticketID)
		}
		if time.Now().After(tc.expiresAt) {
			return nil, titanerr.New(titanerr.Unauthorized, "gateway: ticket %s expired", ticketID)
		}
		tc.consumed = true
		return tc.principal, nil
	})
	if err != nil {
		return Principal{}, err
	}
	return v.(Principal), nil
}
