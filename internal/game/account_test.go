package game

import (
	"context"
	"testing"
)

func TestAccountsEnsureCreatedIsIdempotent(t *testing.T) {
	rt := testRuntime(t)
	accounts := NewAccounts(rt, testSlotStore(accountSlot))
	ctx := context.Background()

	first, err := accounts.EnsureCreated(ctx, "u1", "Arthas")
	if err != nil {
		t.Fatalf("ensureCreated: %v", err)
	}
	if first.DisplayName != "Arthas" {
		t.Fatalf("expected display name Arthas, got %q", first.DisplayName)
	}

	second, err := accounts.EnsureCreated(ctx, "u1", "SomeoneElse")
	if err != nil {
		t.Fatalf("ensureCreated second call: %v", err)
	}
	if second.DisplayName != "Arthas" {
		t.Fatalf("EnsureCreated must not overwrite an existing display name, got %q", second.DisplayName)
	}
}

func TestAccountsAddCharacterDedupes(t *testing.T) {
	rt := testRuntime(t)
	accounts := NewAccounts(rt, testSlotStore(accountSlot))
	ctx := context.Background()

	if _, err := accounts.EnsureCreated(ctx, "u1", "Arthas"); err != nil {
		t.Fatalf("ensureCreated: %v", err)
	}
	if err := accounts.AddCharacter(ctx, "u1", "season1:Arthas"); err != nil {
		t.Fatalf("addCharacter: %v", err)
	}
	if err := accounts.AddCharacter(ctx, "u1", "season1:Arthas"); err != nil {
		t.Fatalf("addCharacter repeat: %v", err)
	}

	account, err := accounts.EnsureCreated(ctx, "u1", "Arthas")
	if err != nil {
		t.Fatalf("ensureCreated: %v", err)
	}
	if len(account.Characters) != 1 {
		t.Fatalf("expected exactly one character key after a duplicate AddCharacter, got %v", account.Characters)
	}
}
