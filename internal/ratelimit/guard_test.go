package ratelimit

import (
	"context"
	"testing"

	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

func testGuard(t *testing.T) *Guard {
	t.Helper()
	pc := testPolicyConfig(t, seedConfig())
	cache, err := NewConfigCache(pc, 0, "", testLogger())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	limiter := NewLimiter(storage.NewMemoryBackend(), storage.TextCodec{})
	return newGuard(cache, limiter, pc)
}

func TestGuardAllowsUnderLimitAndBlocksOver(t *testing.T) {
	g := testGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Check(ctx, "Auth.login", "user:alice"); err != nil {
			t.Fatalf("hit %d: expected allow, got %v", i+1, err)
		}
	}
	if err := g.Check(ctx, "Auth.login", "user:alice"); !titanerr.Is(err, titanerr.RateLimited) {
		t.Fatalf("expected RateLimited on the 4th hit, got %v", err)
	}
}

func TestGuardDisabledAlwaysAllows(t *testing.T) {
	pc := testPolicyConfig(t, seedConfigDisabled())
	cache, err := NewConfigCache(pc, 0, "", testLogger())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	limiter := NewLimiter(storage.NewMemoryBackend(), storage.TextCodec{})
	g := newGuard(cache, limiter, pc)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := g.Check(ctx, "Auth.login", "user:alice"); err != nil {
			t.Fatalf("hit %d: expected a disabled limiter to always allow, got %v", i+1, err)
		}
	}
}

func seedConfigDisabled() config.RateLimiting {
	cfg := seedConfig()
	cfg.Enabled = false
	return cfg
}
