package game

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/titanerr"
	"github.com/titan-mmo/titan/internal/txn"
)

func TestInventoriesGrantAndContains(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))
	ctx := context.Background()
	seasonID := uuid.New()

	itemID := uuid.New()
	if err := inv.Grant(ctx, seasonID, "Arthas", Item{ID: itemID, BaseType: "sword", Tradeable: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	has, err := inv.Contains(ctx, seasonID, "Arthas", itemID)
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !has {
		t.Fatalf("expected inventory to contain the granted item")
	}
}

func TestInventoriesItemUnknownIsNotFound(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))

	_, err := inv.Item(context.Background(), uuid.New(), "Arthas", uuid.New())
	if !titanerr.Is(err, titanerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

// TestInventoryStageCommitMovesItemBetweenCharacters drives the
// Prepare/Commit sequence directly the way Trades.settle does: stage a
// removal on one character's inventory and an addition on another's under
// the same tx, then commit both. The receiving character's copy must gain
// exactly one Traded history entry.
func TestInventoryStageCommitMovesItemBetweenCharacters(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))
	ctx := context.Background()
	seasonID := uuid.New()

	itemID := uuid.New()
	item := Item{ID: itemID, BaseType: "sword", Tradeable: true}
	if err := inv.Grant(ctx, seasonID, "Arthas", item); err != nil {
		t.Fatalf("grant: %v", err)
	}

	tx := txn.NewTxId()
	staged, err := inv.stageRemoval(ctx, seasonID, "Arthas", tx, itemID)
	if err != nil {
		t.Fatalf("stageRemoval: %v", err)
	}
	if err := inv.stageAddition(ctx, seasonID, "Jaina", tx, staged); err != nil {
		t.Fatalf("stageAddition: %v", err)
	}

	if err := inv.participant(seasonID, "Arthas").Prepare(ctx, tx); err != nil {
		t.Fatalf("prepare source: %v", err)
	}
	if err := inv.participant(seasonID, "Arthas").Commit(ctx, tx); err != nil {
		t.Fatalf("commit source: %v", err)
	}
	if err := inv.participant(seasonID, "Jaina").Commit(ctx, tx); err != nil {
		t.Fatalf("commit destination: %v", err)
	}

	if has, err := inv.Contains(ctx, seasonID, "Arthas", itemID); err != nil || has {
		t.Fatalf("expected item removed from source, contains=%v err=%v", has, err)
	}
	moved, err := inv.Item(ctx, seasonID, "Jaina", itemID)
	if err != nil {
		t.Fatalf("item on destination: %v", err)
	}
	if len(moved.History) != 1 || moved.History[0].Kind != "Traded" {
		t.Fatalf("expected exactly one Traded history entry, got %+v", moved.History)
	}
}

func TestInventoryStageRemovalFailsWhenItemAlreadyGone(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))
	ctx := context.Background()
	seasonID := uuid.New()

	itemID := uuid.New()
	if err := inv.Grant(ctx, seasonID, "Arthas", Item{ID: itemID, BaseType: "sword", Tradeable: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	txA := txn.NewTxId()
	if _, err := inv.stageRemoval(ctx, seasonID, "Arthas", txA, itemID); err != nil {
		t.Fatalf("stageRemoval txA: %v", err)
	}
	if err := inv.participant(seasonID, "Arthas").Commit(ctx, txA); err != nil {
		t.Fatalf("commit txA: %v", err)
	}

	txB := txn.NewTxId()
	if _, err := inv.stageRemoval(ctx, seasonID, "Arthas", txB, itemID); !titanerr.Is(err, titanerr.NotFound) {
		t.Fatalf("expected NotFound staging removal of an already-gone item, got %v", err)
	}
}

// TestInventoryPrepareConflictsOnStaleRemoval covers Prepare's own
// sanity re-check: txA stages a removal first, but txB's removal of the
// same item is staged and committed before txA reaches Prepare, so txA's
// Prepare must refuse.
func TestInventoryPrepareConflictsOnStaleRemoval(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))
	ctx := context.Background()
	seasonID := uuid.New()

	itemID := uuid.New()
	if err := inv.Grant(ctx, seasonID, "Arthas", Item{ID: itemID, BaseType: "sword", Tradeable: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	txA := txn.NewTxId()
	if _, err := inv.stageRemoval(ctx, seasonID, "Arthas", txA, itemID); err != nil {
		t.Fatalf("stageRemoval txA: %v", err)
	}

	txB := txn.NewTxId()
	if _, err := inv.stageRemoval(ctx, seasonID, "Arthas", txB, itemID); err != nil {
		t.Fatalf("stageRemoval txB: %v", err)
	}
	if err := inv.participant(seasonID, "Arthas").Commit(ctx, txB); err != nil {
		t.Fatalf("commit txB: %v", err)
	}

	if err := inv.participant(seasonID, "Arthas").Prepare(ctx, txA); !titanerr.Is(err, titanerr.Conflict) {
		t.Fatalf("expected Conflict preparing a tx whose item was already removed by another committed tx, got %v", err)
	}
}

func TestInventoryStageRemovalRejectsUntradeable(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))
	ctx := context.Background()
	seasonID := uuid.New()

	itemID := uuid.New()
	if err := inv.Grant(ctx, seasonID, "Arthas", Item{ID: itemID, BaseType: "heirloom", Tradeable: false}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	tx := txn.NewTxId()
	if _, err := inv.stageRemoval(ctx, seasonID, "Arthas", tx, itemID); !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput staging removal of an untradeable item, got %v", err)
	}
}

func TestInventoryAbortDiscardsStagedMutation(t *testing.T) {
	rt := testRuntime(t)
	inv := NewInventories(rt, testSlotStore(inventorySlot))
	ctx := context.Background()
	seasonID := uuid.New()

	itemID := uuid.New()
	if err := inv.Grant(ctx, seasonID, "Arthas", Item{ID: itemID, BaseType: "sword", Tradeable: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	tx := txn.NewTxId()
	if _, err := inv.stageRemoval(ctx, seasonID, "Arthas", tx, itemID); err != nil {
		t.Fatalf("stageRemoval: %v", err)
	}
	if err := inv.participant(seasonID, "Arthas").Abort(ctx, tx); err != nil {
		t.Fatalf("abort: %v", err)
	}

	has, err := inv.Contains(ctx, seasonID, "Arthas", itemID)
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !has {
		t.Fatalf("expected item still present after Abort discarded the staged removal")
	}
}
