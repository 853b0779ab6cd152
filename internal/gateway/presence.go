package gateway

import (
	"context"

	"github.com/titan-mmo/titan/internal/cell"
)

const presenceKind = "PlayerPresence"

// presenceCell tracks a principal's live connection count, in memory only
// (spec.md §4.6: "PlayerPresence cell (not persisted)").
type presenceCell struct {
	identity cell.Identity
	count    int
}

func (p *presenceCell) Identity() cell.Identity { return p.identity }

// Presence exposes connect/disconnect against PlayerPresence cells.
type Presence struct {
	runtime cell.Invoker
}

func NewPresence(runtime cell.Invoker) *Presence {
	runtime.Register(cell.KindSpec{
		Kind: presenceKind,
		New:  func(id cell.Identity) (cell.Cell, error) { return &presenceCell{identity: id}, nil },
	})
	return &Presence{runtime: runtime}
}

// Connect increments userID's connection count and reports whether this
// was its first connection.
func (p *Presence) Connect(ctx context.Context, userID string) (firstConnection bool, err error) {
	id := cell.New(presenceKind, cell.StringKey(userID))
	v, err := p.runtime.Invoke(ctx, id, "connect", func(ctx context.Context, self cell.Cell) (any, error) {
		pc := self.(*presenceCell)
		pc.count++
		return pc.count == 1, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Disconnect decrements userID's connection count and reports whether it
// reached zero (the principal is now fully offline).
func (p *Presence) Disconnect(ctx context.Context, userID string) (lastConnection bool, err error) {
	id := cell.New(presenceKind, cell.StringKey(userID))
	v, err := p.runtime.Invoke(ctx, id, "disconnect", func(ctx context.Context, self cell.Cell) (any, error) {
		pc := self.(*presenceCell)
		if pc.count > 0 {
			pc.count--
		}
		return pc.count == 0, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// IsOnline reports whether userID currently has at least one connection.
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	id := cell.New(presenceKind, cell.StringKey(userID))
	v, err := p.runtime.Invoke(ctx, id, "isOnline", func(ctx context.Context, self cell.Cell) (any, error) {
		return self.(*presenceCell).count > 0, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
