package gateway

import (
	"context"
	"testing"

	"github.com/titan-mmo/titan/internal/titanerr"
)

func TestDevProviderValidate(t *testing.T) {
	p := DevProvider{}
	principal, err := p.Validate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if principal.UserID != "alice" {
		t.Fatalf("expected userID alice, got %q", principal.UserID)
	}
	if !principal.HasRole("player") {
		t.Fatal("expected dev provider to grant the player role")
	}
}

func TestDevProviderRejectsEmptyToken(t *testing.T) {
	p := DevProvider{}
	if _, err := p.Validate(context.Background(), ""); !titanerr.Is(err, titanerr.Unauthorized) {
		t.Fatalf("expected Unauthorized for an empty token, got %v", err)
	}
}

func TestProviderSetResolve(t *testing.T) {
	set := newProviderSet(DevProvider{})

	p, err := set.resolve("dev")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.Name() != "dev" {
		t.Fatalf("expected dev provider, got %q", p.Name())
	}

	if _, err := set.resolve("saml"); !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput for an unknown provider, got %v", err)
	}

	names := set.names()
	if len(names) != 1 || names[0] != "dev" {
		t.Fatalf("expected [dev], got %v", names)
	}
}
