package ratelimit

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/storage"
)

func newPolicyConfig(runtime cell.Invoker, cfg *config.Config, backend storage.Backend, registry *storage.Registry) *PolicyConfig {
	textCodec, _ := registry.Resolve(storage.CodecText)
	store := storage.NewSlotStore(map[string]storage.SlotSpec{
		policySlot: {Backend: backend, Codec: textCodec},
	})
	return NewPolicyConfig(runtime, cfg, store)
}

func newLimiter(backend storage.Backend, registry *storage.Registry) *Limiter {
	textCodec, _ := registry.Resolve(storage.CodecText)
	return NewLimiter(backend, textCodec)
}

func newConfigCache(policy *PolicyConfig, cfg *config.Config, logger *slog.Logger, lc fx.Lifecycle) (*ConfigCache, error) {
	cache, err := NewConfigCache(policy, cfg.RateLimiting.ConfigCacheTTL, cfg.RateLimiting.SnapshotPath, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return cache.Watch(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})
	return cache, nil
}

// Guard wraps the cache and limiter into the one call the gateway's
// dispatch path needs: "is this request, for this partition, allowed
// right now." Kept separate from Limiter/ConfigCache so each stays
// independently testable.
type Guard struct {
	cache   *ConfigCache
	limiter *Limiter
	enabled *PolicyConfig
}

// NewGuard assembles a Guard directly, for callers outside the fx graph
// (tests, or a Dispatcher wired by hand).
func NewGuard(cache *ConfigCache, limiter *Limiter, policy *PolicyConfig) *Guard {
	return &Guard{cache: cache, limiter: limiter, enabled: policy}
}

func newGuard(cache *ConfigCache, limiter *Limiter, policy *PolicyConfig) *Guard {
	return NewGuard(cache, limiter, policy)
}

// Check resolves endpoint's policy and enforces it against partition (a
// user ID, IP, or whatever key the caller's rule table demands). A
// globally disabled limiter always allows.
func (g *Guard) Check(ctx context.Context, endpoint, partition string) error {
	on, err := g.enabled.Enabled(ctx)
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	policy, err := g.cache.Resolve(ctx, endpoint)
	if err != nil {
		return err
	}
	return g.limiter.Allow(ctx, policy, partition)
}

// Module wires the rate-limit policy cell, the KV-backed sliding-window
// limiter, and the LRU+fsnotify config cache (spec.md §4.7, §9).
var Module = fx.Module("ratelimit",
	fx.Provide(
		newPolicyConfig,
		newLimiter,
		newConfigCache,
		newGuard,
	),
)
