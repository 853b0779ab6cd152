package game

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/titanerr"
)

func TestSeasonsCreateAndGetRoundTripsSoloSelfFound(t *testing.T) {
	rt := testRuntime(t)
	seasons := NewSeasons(rt, testSlotStore(seasonSlot))
	ctx := context.Background()

	seasonID := uuid.New()
	if err := seasons.Create(ctx, seasonID, "Hardcore SSF", true, false, true, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	season, err := seasons.Get(ctx, seasonID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !season.Hardcore || !season.SoloSelfFound || season.Void {
		t.Fatalf("unexpected ruleset round-trip: %+v", season)
	}
	if season.Name != "Hardcore SSF" {
		t.Fatalf("expected name Hardcore SSF, got %q", season.Name)
	}
}

func TestSeasonsGetUnknownSeasonIsNotFound(t *testing.T) {
	rt := testRuntime(t)
	seasons := NewSeasons(rt, testSlotStore(seasonSlot))

	_, err := seasons.Get(context.Background(), uuid.New())
	if !titanerr.Is(err, titanerr.NotFound) {
		t.Fatalf("expected NotFound for an unknown season, got %v", err)
	}
}

func TestSeasonsCreateRecordsPermanentFallback(t *testing.T) {
	rt := testRuntime(t)
	seasons := NewSeasons(rt, testSlotStore(seasonSlot))
	ctx := context.Background()

	fallbackID := uuid.New()
	seasonID := uuid.New()
	if err := seasons.Create(ctx, seasonID, "Temporary Hardcore", true, false, false, &fallbackID); err != nil {
		t.Fatalf("create: %v", err)
	}

	season, err := seasons.Get(ctx, seasonID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if season.PermanentFallback == nil || *season.PermanentFallback != fallbackID {
		t.Fatalf("expected permanent fallback %s, got %+v", fallbackID, season.PermanentFallback)
	}
}
