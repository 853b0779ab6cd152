package game

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/titanerr"
)

func newTradeFixture(t *testing.T, h *harness, soloSelfFound bool) (seasonID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	seasonID = uuid.New()
	if err := h.seasons.Create(ctx, seasonID, "Trading Season", false, false, soloSelfFound, nil); err != nil {
		t.Fatalf("create season: %v", err)
	}
	if _, err := h.characters.Create(ctx, seasonID, "C1"); err != nil {
		t.Fatalf("create C1: %v", err)
	}
	if _, err := h.characters.Create(ctx, seasonID, "C2"); err != nil {
		t.Fatalf("create C2: %v", err)
	}
	return seasonID
}

// TestTradeHappyPathSwapsItems exercises spec.md §8 scenario 2: C1 offers
// i1, C2 offers i2, both accept, and the swap commits — i1 ends up on C2
// with one Traded history entry, i2 on C1 with one Traded history entry,
// and the trade publishes TradeCompleted.
func TestTradeHappyPathSwapsItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seasonID := newTradeFixture(t, h, false)

	i1 := uuid.New()
	i2 := uuid.New()
	if err := h.inventories.Grant(ctx, seasonID, "C1", Item{ID: i1, BaseType: "sword", Tradeable: true}); err != nil {
		t.Fatalf("grant i1: %v", err)
	}
	if err := h.inventories.Grant(ctx, seasonID, "C2", Item{ID: i2, BaseType: "shield", Tradeable: true}); err != nil {
		t.Fatalf("grant i2: %v", err)
	}

	tradeID, err := h.trades.Start(ctx, seasonID, "C1", "C2")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.trades.AddItem(ctx, tradeID, "C1", i1); err != nil {
		t.Fatalf("addItem i1: %v", err)
	}
	if err := h.trades.AddItem(ctx, tradeID, "C2", i2); err != nil {
		t.Fatalf("addItem i2: %v", err)
	}
	if err := h.trades.Accept(ctx, tradeID, "C1"); err != nil {
		t.Fatalf("accept C1: %v", err)
	}
	if err := h.trades.Accept(ctx, tradeID, "C2"); err != nil {
		t.Fatalf("accept C2: %v", err)
	}

	if has, err := h.inventories.Contains(ctx, seasonID, "C1", i1); err != nil || has {
		t.Fatalf("expected i1 no longer on C1, contains=%v err=%v", has, err)
	}
	if has, err := h.inventories.Contains(ctx, seasonID, "C2", i2); err != nil || has {
		t.Fatalf("expected i2 no longer on C2, contains=%v err=%v", has, err)
	}

	gotI1, err := h.inventories.Item(ctx, seasonID, "C2", i1)
	if err != nil {
		t.Fatalf("i1 on C2: %v", err)
	}
	if len(gotI1.History) != 1 || gotI1.History[0].Kind != "Traded" {
		t.Fatalf("expected i1 to gain exactly one Traded entry, got %+v", gotI1.History)
	}

	gotI2, err := h.inventories.Item(ctx, seasonID, "C1", i2)
	if err != nil {
		t.Fatalf("i2 on C1: %v", err)
	}
	if len(gotI2.History) != 1 || gotI2.History[0].Kind != "Traded" {
		t.Fatalf("expected i2 to gain exactly one Traded entry, got %+v", gotI2.History)
	}
}

func TestTradeRejectsDifferentSeasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seasonA := uuid.New()
	seasonB := uuid.New()
	if err := h.seasons.Create(ctx, seasonA, "A", false, false, false, nil); err != nil {
		t.Fatalf("create season A: %v", err)
	}
	if err := h.seasons.Create(ctx, seasonB, "B", false, false, false, nil); err != nil {
		t.Fatalf("create season B: %v", err)
	}
	if _, err := h.characters.Create(ctx, seasonA, "C1"); err != nil {
		t.Fatalf("create C1: %v", err)
	}
	if _, err := h.characters.Create(ctx, seasonB, "C2"); err != nil {
		t.Fatalf("create C2: %v", err)
	}

	if _, err := h.trades.Start(ctx, seasonA, "C1", "C2"); err == nil {
		t.Fatalf("expected an error starting a trade across two seasons")
	}
}

func TestTradeRejectsSoloSelfFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seasonID := newTradeFixture(t, h, true)

	if _, err := h.trades.Start(ctx, seasonID, "C1", "C2"); err == nil {
		t.Fatalf("expected an error starting a trade under solo self-found rules")
	}
}

func TestTradeAddItemRejectsNonParty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seasonID := newTradeFixture(t, h, false)

	tradeID, err := h.trades.Start(ctx, seasonID, "C1", "C2")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.trades.AddItem(ctx, tradeID, "C3", uuid.New()); !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput adding an item from a non-party character, got %v", err)
	}
}

// TestTradeConflictOnlyOneOfTwoConcurrentTradesWins exercises spec.md §8
// scenario 3: two trades, each offering the same item i1 from C1 (to two
// different counterparties), settle concurrently. Exactly one must
// complete; the other must fail once it finds i1 already spent.
func TestTradeConflictOnlyOneOfTwoConcurrentTradesWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seasonID := uuid.New()
	if err := h.seasons.Create(ctx, seasonID, "Trading Season", false, false, false, nil); err != nil {
		t.Fatalf("create season: %v", err)
	}
	for _, name := range []string{"C1", "C2", "C3"} {
		if _, err := h.characters.Create(ctx, seasonID, name); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	i1 := uuid.New()
	if err := h.inventories.Grant(ctx, seasonID, "C1", Item{ID: i1, BaseType: "sword", Tradeable: true}); err != nil {
		t.Fatalf("grant i1: %v", err)
	}

	tradeAB, err := h.trades.Start(ctx, seasonID, "C1", "C2")
	if err != nil {
		t.Fatalf("start A-B: %v", err)
	}
	if err := h.trades.AddItem(ctx, tradeAB, "C1", i1); err != nil {
		t.Fatalf("addItem A-B: %v", err)
	}

	tradeAC, err := h.trades.Start(ctx, seasonID, "C1", "C3")
	if err != nil {
		t.Fatalf("start A-C: %v", err)
	}
	if err := h.trades.AddItem(ctx, tradeAC, "C1", i1); err != nil {
		t.Fatalf("addItem A-C: %v", err)
	}

	if err := h.trades.Accept(ctx, tradeAB, "C1"); err != nil {
		t.Fatalf("accept A-B/C1: %v", err)
	}
	if err := h.trades.Accept(ctx, tradeAC, "C1"); err != nil {
		t.Fatalf("accept A-C/C1: %v", err)
	}

	var wg sync.WaitGroup
	errAB := make(chan error, 1)
	errAC := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errAB <- h.trades.Accept(ctx, tradeAB, "C2")
	}()
	go func() {
		defer wg.Done()
		errAC <- h.trades.Accept(ctx, tradeAC, "C3")
	}()
	wg.Wait()
	resAB, resAC := <-errAB, <-errAC

	if (resAB == nil) == (resAC == nil) {
		t.Fatalf("expected exactly one of the two concurrent trades to succeed, got AB=%v AC=%v", resAB, resAC)
	}

	var failed error
	if resAB != nil {
		failed = resAB
	} else {
		failed = resAC
	}
	// itemLocks serializes settle() end to end, so the losing trade never
	// reaches the coordinator's Prepare phase at all — it finds i1 already
	// gone from C1's inventory the moment its own stageRemoval runs, after
	// the winner's commit has already removed it, and settle reports that
	// as a Conflict.
	if !titanerr.Is(failed, titanerr.Conflict) {
		t.Fatalf("expected the losing trade to fail with Conflict (item already spent), got %v", failed)
	}

	winner := "C2"
	if resAB != nil {
		winner = "C3"
	}
	has, err := h.inventories.Contains(ctx, seasonID, winner, i1)
	if err != nil {
		t.Fatalf("contains on winner %s: %v", winner, err)
	}
	if !has {
		t.Fatalf("expected the winning trade's counterparty %s to hold i1", winner)
	}
}
