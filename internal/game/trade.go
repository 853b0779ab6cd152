package game

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/rules"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/stream"
	"github.com/titan-mmo/titan/internal/titanerr"
	"github.com/titan-mmo/titan/internal/txn"
)

const (
	tradeKind      = "Trade"
	tradeSlot      = "Primary"
	tradeStream    = "game.trades"
	tradeTxTimeout = 30 * time.Second
)

// Trade events, published to tradeStream in the order spec.md §8 scenario
// 2 requires: TradeStarted, then one ItemAdded per item, then
// TradeAccepted per side, then TradeCompleted.
type TradeStarted struct {
	TradeID  uuid.UUID `json:"tradeId"`
	SeasonID uuid.UUID `json:"seasonId"`
	CharA    string    `json:"charA"`
	CharB    string    `json:"charB"`
}

type ItemAdded struct {
	TradeID   uuid.UUID `json:"tradeId"`
	Character string    `json:"character"`
	ItemID    uuid.UUID `json:"itemId"`
}

type TradeAccepted struct {
	TradeID   uuid.UUID `json:"tradeId"`
	Character string    `json:"character"`
}

type TradeCompleted struct {
	TradeID uuid.UUID `json:"tradeId"`
}

type tradeSubject struct {
	seasonA, seasonB               uuid.UUID
	soloSelfFoundA, soloSelfFoundB bool
}

// SameSeason rejects trades whose two characters belong to different
// seasons (spec.md §8 scenario 2's trades are always intra-season).
func SameSeason(ctx context.Context, s tradeSubject) error {
	if s.seasonA != s.seasonB {
		return rules.Violation("game: trade requires both characters in the same season")
	}
	return nil
}

// SoloSelfFound blocks trading entirely when either side's season runs
// solo self-found rules.
func SoloSelfFound(ctx context.Context, s tradeSubject) error {
	if s.soloSelfFoundA || s.soloSelfFoundB {
		return rules.Violation("game: trading is disabled under solo self-found rules")
	}
	return nil
}

type tradeState struct {
	SeasonID  uuid.UUID   `json:"seasonId"`
	CharA     string      `json:"charA"`
	CharB     string      `json:"charB"`
	ItemsA    []uuid.UUID `json:"itemsA"`
	ItemsB    []uuid.UUID `json:"itemsB"`
	AcceptedA bool        `json:"acceptedA"`
	AcceptedB bool        `json:"acceptedB"`
	Completed bool        `json:"completed"`
	Cancelled bool        `json:"cancelled"`
	CreatedAt time.Time   `json:"createdAt"`
}

// tradeCell sequences one barter between two characters (spec.md §8
// scenario 2), its own mailbox giving the propose/add-item/accept
// sequence the same "exactly one in-flight mutation at a time" property
// every other cell gets for free.
type tradeCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	state    tradeState
}

func (c *tradeCell) Identity() cell.Identity { return c.identity }

func (c *tradeCell) OnActivate(ctx context.Context) error {
	etag, err := c.store.Load(ctx, c.identity.Kind, c.identity.Key.String(), tradeSlot, &c.state)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	c.etag = etag
	return nil
}

func (c *tradeCell) persist(ctx context.Context) error {
	etag, err := c.store.Save(ctx, c.identity.Kind, c.identity.Key.String(), tradeSlot, c.state, c.etag)
	if err != nil {
		return err
	}
	c.etag = etag
	return nil
}

func tradeIdentity(tradeID uuid.UUID) cell.Identity {
	return cell.New(tradeKind, cell.UUIDKey(tradeID))
}

// Trades orchestrates barters between two characters, composing rules
// (SameSeason, SoloSelfFound) at proposal time and a txn.Coordinator
// two-phase commit across both characters' Inventory cells once both
// sides accept.
type Trades struct {
	runtime     cell.Invoker
	seasons     *Seasons
	characters  *Characters
	inventories *Inventories
	coordinator *txn.Coordinator
	publisher   *stream.Publisher

	// itemLocks serializes settle() across concurrent trades that touch
	// the same item (item IDs are globally unique, so the item ID alone
	// is the key) — spec.md §8 scenario 3's "exactly one of two
	// concurrent trades spending the same item succeeds" property.
	// Acquired and released entirely within settle's own goroutine, never
	// nested inside a cell's own Invoke, so it can safely block without
	// deadlocking an inventory's mailbox worker.
	itemLocks *txn.SlotLocks
}

func NewTrades(runtime cell.Invoker, seasons *Seasons, characters *Characters, inventories *Inventories, coordinator *txn.Coordinator, streams *stream.Manager, store *storage.SlotStore) *Trades {
	runtime.Register(cell.KindSpec{
		Kind: tradeKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &tradeCell{identity: id, store: store}, nil
		},
	})
	return &Trades{
		runtime:     runtime,
		seasons:     seasons,
		characters:  characters,
		inventories: inventories,
		coordinator: coordinator,
		publisher:   streams.Publisher(tradeStream),
		itemLocks:   txn.NewSlotLocks(),
	}
}

// Start proposes a trade between charA and charB in seasonID, generating a
// fresh trade ID and publishing TradeStarted.
func (t *Trades) Start(ctx context.Context, seasonID uuid.UUID, charA, charB string) (uuid.UUID, error) {
	a, err := t.characters.Get(ctx, seasonID, charA)
	if err != nil {
		return uuid.UUID{}, err
	}
	b, err := t.characters.Get(ctx, seasonID, charB)
	if err != nil {
		return uuid.UUID{}, err
	}

	subject := tradeSubject{
		seasonA: a.SeasonID, seasonB: b.SeasonID,
		soloSelfFoundA: a.SoloSelfFound, soloSelfFoundB: b.SoloSelfFound,
	}
	if err := rules.Chain(ctx, subject, SameSeason, SoloSelfFound); err != nil {
		return uuid.UUID{}, err
	}

	tradeID := uuid.New()
	id := tradeIdentity(tradeID)
	_, err = t.runtime.Invoke(ctx, id, "start", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*tradeCell)
		tc.state = tradeState{SeasonID: seasonID, CharA: charA, CharB: charB, CreatedAt: time.Now()}
		return nil, tc.persist(ctx)
	})
	if err != nil {
		return uuid.UUID{}, err
	}

	if err := t.publisher.Publish(ctx, TradeStarted{TradeID: tradeID, SeasonID: seasonID, CharA: charA, CharB: charB}); err != nil {
		return uuid.UUID{}, err
	}
	return tradeID, nil
}

// AddItem offers itemID from character (must be one of the two sides)
// into the trade.
func (t *Trades) AddItem(ctx context.Context, tradeID uuid.UUID, character string, itemID uuid.UUID) error {
	id := tradeIdentity(tradeID)
	_, err := t.runtime.Invoke(ctx, id, "addItem", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*tradeCell)
		if tc.state.CharA == "" {
			return nil, titanerr.New(titanerr.NotFound, "game: trade %s not found", tradeID)
		}
		if tc.state.Completed || tc.state.Cancelled {
			return nil, titanerr.New(titanerr.Conflict, "game: trade %s is no longer open", tradeID)
		}
		switch character {
		case tc.state.CharA:
			tc.state.ItemsA = append(tc.state.ItemsA, itemID)
		case tc.state.CharB:
			tc.state.ItemsB = append(tc.state.ItemsB, itemID)
		default:
			return nil, titanerr.New(titanerr.InvalidInput, "game: %s is not a party to trade %s", character, tradeID)
		}
		return nil, tc.persist(ctx)
	})
	if err != nil {
		return err
	}
	return t.publisher.Publish(ctx, ItemAdded{TradeID: tradeID, Character: character, ItemID: itemID})
}

// Accept records character's acceptance. Once both sides have accepted,
// Accept drives the two-phase commit across both Inventory cells and, on
// success, marks the trade Completed and publishes TradeCompleted. A
// Conflict (e.g. spec.md §8 scenario 3: an offered item was already spent
// by a concurrent trade, so staging its removal fails; or a participant
// refusing the coordinator's prepare) propagates without marking the
// trade Completed, leaving both acceptances in place for the caller to
// retry or cancel.
func (t *Trades) Accept(ctx context.Context, tradeID uuid.UUID, character string) error {
	id := tradeIdentity(tradeID)
	ready, err := t.runtime.Invoke(ctx, id, "accept", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*tradeCell)
		if tc.state.CharA == "" {
			return nil, titanerr.New(titanerr.NotFound, "game: trade %s not found", tradeID)
		}
		if tc.state.Completed || tc.state.Cancelled {
			return nil, titanerr.New(titanerr.Conflict, "game: trade %s is no longer open", tradeID)
		}
		switch character {
		case tc.state.CharA:
			tc.state.AcceptedA = true
		case tc.state.CharB:
			tc.state.AcceptedB = true
		default:
			return nil, titanerr.New(titanerr.InvalidInput, "game: %s is not a party to trade %s", character, tradeID)
		}
		if err := tc.persist(ctx); err != nil {
			return nil, err
		}
		return tc.state.AcceptedA && tc.state.AcceptedB, nil
	})
	if err != nil {
		return err
	}

	if err := t.publisher.Publish(ctx, TradeAccepted{TradeID: tradeID, Character: character}); err != nil {
		return err
	}
	if !ready.(bool) {
		return nil
	}
	return t.settle(ctx, tradeID)
}

// settle runs the committed swap once both sides have accepted.
func (t *Trades) settle(ctx context.Context, tradeID uuid.UUID) error {
	id := tradeIdentity(tradeID)
	v, err := t.runtime.Invoke(ctx, id, "readForSettle", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*tradeCell)
		return tc.state, nil
	})
	if err != nil {
		return err
	}
	state := v.(tradeState)

	handle, err := t.coordinator.Begin(ctx, tradeTxTimeout)
	if err != nil {
		return err
	}

	handle.Join("inventory:"+state.CharA, t.inventories.participant(state.SeasonID, state.CharA))
	handle.Join("inventory:"+state.CharB, t.inventories.participant(state.SeasonID, state.CharB))

	allItems := append(append([]uuid.UUID{}, state.ItemsA...), state.ItemsB...)
	releases, err := t.acquireItemLocks(ctx, allItems)
	if err != nil {
		t.coordinator.Abort(ctx, handle)
		return err
	}
	defer releaseAll(releases)

	tx := handle.ID()
	staged := make([]Item, 0, len(allItems))
	for _, itemID := range state.ItemsA {
		item, err := t.inventories.stageRemoval(ctx, state.SeasonID, state.CharA, tx, itemID)
		if err != nil {
			t.coordinator.Abort(ctx, handle)
			if titanerr.Is(err, titanerr.NotFound) {
				return titanerr.Wrap(titanerr.Conflict, err, "game: trade %s: item %s is no longer available", tradeID, itemID)
			}
			return err
		}
		staged = append(staged, item)
	}
	for _, itemID := range state.ItemsB {
		item, err := t.inventories.stageRemoval(ctx, state.SeasonID, state.CharB, tx, itemID)
		if err != nil {
			t.coordinator.Abort(ctx, handle)
			if titanerr.Is(err, titanerr.NotFound) {
				return titanerr.Wrap(titanerr.Conflict, err, "game: trade %s: item %s is no longer available", tradeID, itemID)
			}
			return err
		}
		staged = append(staged, item)
	}

	for _, item := range staged {
		var dest string
		switch {
		case contains(state.ItemsA, item.ID):
			dest = state.CharB
		default:
			dest = state.CharA
		}
		if err := t.inventories.stageAddition(ctx, state.SeasonID, dest, tx, item); err != nil {
			t.coordinator.Abort(ctx, handle)
			return err
		}
	}

	if err := t.coordinator.Commit(ctx, handle); err != nil {
		return err
	}

	_, err = t.runtime.Invoke(ctx, id, "complete", func(ctx context.Context, self cell.Cell) (any, error) {
		tc := self.(*tradeCell)
		tc.state.Completed = true
		return nil, tc.persist(ctx)
	})
	if err != nil {
		return err
	}
	return t.publisher.Publish(ctx, TradeCompleted{TradeID: tradeID})
}

// acquireItemLocks locks every item in ids in a fixed (sorted-string)
// order, so two trades racing over the same item pair can't deadlock each
// other by acquiring in opposite orders. On failure it releases whatever
// it already holds before returning.
func (t *Trades) acquireItemLocks(ctx context.Context, ids []uuid.UUID) ([]func(), error) {
	sorted := append([]uuid.UUID{}, ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	releases := make([]func(), 0, len(sorted))
	for _, id := range sorted {
		release, err := t.itemLocks.Acquire(ctx, id.String())
		if err != nil {
			releaseAll(releases)
			return nil, err
		}
		releases = append(releases, release)
	}
	return releases, nil
}

func releaseAll(releases []func()) {
	for _, release := range releases {
		release()
	}
}

func contains(ids []uuid.UUID, target uuid.UUID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
