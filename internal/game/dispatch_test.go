package game

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/gateway"
	"github.com/titan-mmo/titan/internal/ratelimit"
	"github.com/titan-mmo/titan/internal/titanerr"
)

func newTradeFixtureSeasonOnly(t *testing.T, h *harness) uuid.UUID {
	t.Helper()
	seasonID := uuid.New()
	if err := h.seasons.Create(context.Background(), seasonID, "Dispatch Season", false, false, false, nil); err != nil {
		t.Fatalf("create season: %v", err)
	}
	return seasonID
}

// testGuard builds a Guard whose PolicyConfig is seeded disabled, so Check
// short-circuits to nil without needing a live ConfigCache/Limiter — the
// Dispatcher tests below care about routing, not limiting.
func testGuard(t *testing.T) *ratelimit.Guard {
	t.Helper()
	rt := testRuntime(t)
	// "Primary" matches ratelimit's own (unexported) policySlot constant.
	policy := ratelimit.NewPolicyConfig(rt, &config.Config{RateLimiting: config.RateLimiting{Enabled: false}}, testSlotStore("Primary"))
	return ratelimit.NewGuard(nil, nil, policy)
}

func newDispatchHarness(t *testing.T) (*Dispatcher, *harness) {
	t.Helper()
	h := newHarness(t)
	return NewDispatcher(h.accounts, h.seasons, h.characters, h.inventories, h.trades, h.registry, testGuard(t)), h
}

func TestDispatchAccountHubEnsureCreated(t *testing.T) {
	d, _ := newDispatchHarness(t)
	principal := gateway.Principal{UserID: "u1"}
	args, _ := json.Marshal(map[string]any{"displayName": "Arthas"})

	v, err := d.Dispatch(context.Background(), principal, "AccountHub.EnsureCreated", args)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	account, ok := v.(Account)
	if !ok || account.DisplayName != "Arthas" {
		t.Fatalf("expected an Account with displayName Arthas, got %+v", v)
	}
}

func TestDispatchUnknownMethodIsInvalidInput(t *testing.T) {
	d, _ := newDispatchHarness(t)
	_, err := d.Dispatch(context.Background(), gateway.Principal{UserID: "u1"}, "NoSuchHub.Foo", nil)
	if !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput for an unknown method, got %v", err)
	}
}

func TestDispatchMalformedArgsIsInvalidInput(t *testing.T) {
	d, _ := newDispatchHarness(t)
	_, err := d.Dispatch(context.Background(), gateway.Principal{UserID: "u1"}, "AccountHub.EnsureCreated", json.RawMessage(`not json`))
	if !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput for malformed args, got %v", err)
	}
}

func TestDispatchCharacterHubCreateRegistersOnAccount(t *testing.T) {
	d, h := newDispatchHarness(t)
	ctx := context.Background()
	principal := gateway.Principal{UserID: "u1"}

	if _, err := d.Dispatch(ctx, principal, "AccountHub.EnsureCreated", mustJSON(t, map[string]any{"displayName": "Arthas"})); err != nil {
		t.Fatalf("ensureCreated: %v", err)
	}

	seasonID := newTradeFixtureSeasonOnly(t, h)
	args := mustJSON(t, map[string]any{"seasonId": seasonID, "name": "Arthas"})
	if _, err := d.Dispatch(ctx, principal, "CharacterHub.Create", args); err != nil {
		t.Fatalf("characterHub.Create: %v", err)
	}

	account, err := h.accounts.EnsureCreated(ctx, "u1", "Arthas")
	if err != nil {
		t.Fatalf("ensureCreated refetch: %v", err)
	}
	if len(account.Characters) != 1 {
		t.Fatalf("expected CharacterHub.Create to register the character on the account, got %v", account.Characters)
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
