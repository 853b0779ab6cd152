package game

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
	"github.com/titan-mmo/titan/internal/txn"
)

const (
	inventoryKind = "Inventory"
	inventorySlot = "Primary"
)

// ItemHistoryEntry is one append-only event on an item's timeline (spec.md
// §8 scenario 2: "item history for i1 and i2 each contain one Traded
// entry").
type ItemHistoryEntry struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Item is one inventory-owned instance of a base type.
type Item struct {
	ID        uuid.UUID          `json:"id"`
	BaseType  string             `json:"baseType"`
	Tradeable bool               `json:"tradeable"`
	History   []ItemHistoryEntry `json:"history"`
}

type inventoryState struct {
	Items map[uuid.UUID]Item `json:"items"`
}

// tradeMutation is what a Trade stages into an Inventory's Journal during
// the execute phase: items to remove (this inventory's contribution) and
// items to add (the counterparty's contribution), applied atomically at
// commit.
type tradeMutation struct {
	Remove []uuid.UUID
	Add    []Item
}

// inventoryCell implements txn.Participant: Trade stages a tradeMutation
// (removals + incoming additions), the coordinator calls
// Prepare/Commit/Abort. Per-item mutual exclusion across concurrent
// trades is the Trades orchestrator's job (txn.SlotLocks held around the
// whole stage-through-commit window), not this cell's — stageRemoval runs
// on this cell's own single mailbox worker, so a lock acquired and
// released by two different top-level calls to that same worker would
// deadlock the moment the release depended on a call the worker hasn't
// gotten to yet.
type inventoryCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	state    inventoryState
	journal  *txn.Journal[tradeMutation]
}

func (c *inventoryCell) Identity() cell.Identity { return c.identity }

func (c *inventoryCell) OnActivate(ctx context.Context) error {
	etag, err := c.store.Load(ctx, c.identity.Kind, c.identity.Key.String(), inventorySlot, &c.state)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			c.state.Items = make(map[uuid.UUID]Item)
			return nil
		}
		return err
	}
	if c.state.Items == nil {
		c.state.Items = make(map[uuid.UUID]Item)
	}
	c.etag = etag
	return nil
}

func (c *inventoryCell) persist(ctx context.Context) error {
	etag, err := c.store.Save(ctx, c.identity.Kind, c.identity.Key.String(), inventorySlot, c.state, c.etag)
	if err != nil {
		return err
	}
	c.etag = etag
	return nil
}

// Prepare validates every item this tx wants to remove is still present —
// the Trades orchestrator already holds each item's lock for the whole
// stage-through-commit window, so this is a sanity re-check rather than
// the thing that rules out a second concurrent tx.
func (c *inventoryCell) Prepare(ctx context.Context, tx txn.TxId) error {
	mutation, ok := c.journal.Peek(tx)
	if !ok {
		return nil
	}
	for _, id := range mutation.Remove {
		if _, ok := c.state.Items[id]; !ok {
			return titanerr.New(titanerr.Conflict, "game: inventory %s no longer holds item %s", c.identity, id)
		}
	}
	return nil
}

// Commit applies the journaled mutation to the primary item map.
func (c *inventoryCell) Commit(ctx context.Context, tx txn.TxId) error {
	mutation, ok := c.journal.Take(tx)
	if !ok {
		return nil
	}
	for _, id := range mutation.Remove {
		delete(c.state.Items, id)
	}
	for _, item := range mutation.Add {
		item.History = append(item.History, ItemHistoryEntry{Kind: "Traded", At: time.Now()})
		c.state.Items[item.ID] = item
	}
	return c.persist(ctx)
}

// Abort discards the journaled mutation without touching primary state.
func (c *inventoryCell) Abort(ctx context.Context, tx txn.TxId) error {
	c.journal.Take(tx)
	return nil
}

// stageRemoval records, for the given transaction, that item must be
// removed from this inventory once the trade commits. The caller
// (Trades.settle) is expected to already hold this item's cross-trade
// lock before calling in.
func (c *inventoryCell) stageRemoval(ctx context.Context, tx txn.TxId, itemID uuid.UUID) (Item, error) {
	item, ok := c.state.Items[itemID]
	if !ok {
		return Item{}, titanerr.New(titanerr.NotFound, "game: inventory %s has no item %s", c.identity, itemID)
	}
	if !item.Tradeable {
		return Item{}, titanerr.New(titanerr.InvalidInput, "game: item %s is not tradeable", itemID)
	}

	mutation, _ := c.journal.Peek(tx)
	mutation.Remove = append(mutation.Remove, itemID)
	c.journal.Stage(tx, mutation)
	return item, nil
}

func (c *inventoryCell) stageAddition(tx txn.TxId, item Item) {
	mutation, _ := c.journal.Peek(tx)
	mutation.Add = append(mutation.Add, item)
	c.journal.Stage(tx, mutation)
}

// Inventories manages item ownership per character.
type Inventories struct {
	runtime cell.Invoker
}

func NewInventories(runtime cell.Invoker, store *storage.SlotStore) *Inventories {
	runtime.Register(cell.KindSpec{
		Kind: inventoryKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &inventoryCell{
				identity: id,
				store:    store,
				journal:  txn.NewJournal[tradeMutation](),
			}, nil
		},
	})
	return &Inventories{runtime: runtime}
}

func inventoryIdentity(seasonID uuid.UUID, characterName string) cell.Identity {
	return cell.New(inventoryKind, cell.CompoundKey(seasonID, characterName))
}

// Grant seeds an item directly into a character's inventory — used to set
// up fixtures (spec.md §8 scenario 2's "items i1 owned by C1") and by any
// future item-acquisition path (loot, purchase) this illustrative domain
// doesn't otherwise implement.
func (inv *Inventories) Grant(ctx context.Context, seasonID uuid.UUID, characterName string, item Item) error {
	id := inventoryIdentity(seasonID, characterName)
	_, err := inv.runtime.Invoke(ctx, id, "grant", func(ctx context.Context, self cell.Cell) (any, error) {
		ic := self.(*inventoryCell)
		ic.state.Items[item.ID] = item
		return nil, ic.persist(ctx)
	})
	return err
}

// Contains reports whether characterName's inventory currently holds
// itemID.
func (inv *Inventories) Contains(ctx context.Context, seasonID uuid.UUID, characterName string, itemID uuid.UUID) (bool, error) {
	id := inventoryIdentity(seasonID, characterName)
	v, err := inv.runtime.Invoke(ctx, id, "contains", func(ctx context.Context, self cell.Cell) (any, error) {
		ic := self.(*inventoryCell)
		_, ok := ic.state.Items[itemID]
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Item returns a copy of one item's record, for inspecting its history.
func (inv *Inventories) Item(ctx context.Context, seasonID uuid.UUID, characterName string, itemID uuid.UUID) (Item, error) {
	id := inventoryIdentity(seasonID, characterName)
	v, err := inv.runtime.Invoke(ctx, id, "item", func(ctx context.Context, self cell.Cell) (any, error) {
		ic := self.(*inventoryCell)
		item, ok := ic.state.Items[itemID]
		if !ok {
			return nil, titanerr.New(titanerr.NotFound, "game: inventory %s has no item %s", id, itemID)
		}
		return item, nil
	})
	if err != nil {
		return Item{}, err
	}
	return v.(Item), nil
}

// stageRemoval and stageAddition go through Invoke too, so they run on the
// inventory's own mailbox worker like every other operation — Trade never
// touches inventoryCell fields directly.
func (inv *Inventories) stageRemoval(ctx context.Context, seasonID uuid.UUID, characterName string, tx txn.TxId, itemID uuid.UUID) (Item, error) {
	id := inventoryIdentity(seasonID, characterName)
	v, err := inv.runtime.Invoke(ctx, id, "stageRemoval", func(ctx context.Context, self cell.Cell) (any, error) {
		return self.(*inventoryCell).stageRemoval(ctx, tx, itemID)
	})
	if err != nil {
		return Item{}, err
	}
	return v.(Item), nil
}

func (inv *Inventories) stageAddition(ctx context.Context, seasonID uuid.UUID, characterName string, tx txn.TxId, item Item) error {
	id := inventoryIdentity(seasonID, characterName)
	_, err := inv.runtime.Invoke(ctx, id, "stageAddition", func(ctx context.Context, self cell.Cell) (any, error) {
		self.(*inventoryCell).stageAddition(tx, item)
		return nil, nil
	})
	return err
}

// participant returns a txn.Participant bound to this inventory so the
// Trade cell can Join it into the coordinator without reaching into
// inventoryCell's fields directly — every Participant method re-enters
// the inventory's own mailbox the same way Dispatch's other operations do.
func (inv *Inventories) participant(seasonID uuid.UUID, characterName string) txn.Participant {
	return inventoryParticipant{runtime: inv.runtime, id: inventoryIdentity(seasonID, characterName)}
}

// inventoryParticipant is a thin stub that re-enters the inventory's
// mailbox for each Participant call instead of holding the *inventoryCell
// pointer directly, matching the "cells reference other cells only by
// identity" rule (spec.md §9) even for the coordinator's callback.
type inventoryParticipant struct {
	runtime cell.Invoker
	id      cell.Identity
}

func (p inventoryParticipant) Prepare(ctx context.Context, tx txn.TxId) error {
	_, err := p.runtime.Invoke(ctx, p.id, "prepare", func(ctx context.Context, self cell.Cell) (any, error) {
		return nil, self.(*inventoryCell).Prepare(ctx, tx)
	})
	return err
}

func (p inventoryParticipant) Commit(ctx context.Context, tx txn.TxId) error {
	_, err := p.runtime.Invoke(ctx, p.id, "commit", func(ctx context.Context, self cell.Cell) (any, error) {
		return nil, self.(*inventoryCell).Commit(ctx, tx)
	})
	return err
}

func (p inventoryParticipant) Abort(ctx context.Context, tx txn.TxId) error {
	_, err := p.runtime.Invoke(ctx, p.id, "abort", func(ctx context.Context, self cell.Cell) (any, error) {
		return nil, self.(*inventoryCell).Abort(ctx, tx)
	})
	return err
}
