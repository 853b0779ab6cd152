package storage

import (
	"github.com/titan-mmo/titan/internal/config"
	"go.uber.org/fx"
)

// Module wires the default storage stack: an in-memory backend wrapped in
// the retry+breaker pipeline. Deployments pointed at a real membership
// store swap in NewConsulBackend via the same fx.Provide slot.
var Module = fx.Module("storage",
	fx.Provide(
		NewRegistry,
		func(cfg *config.Config) Backend {
			base := Backend(NewMemoryBackend())
			retrying := NewRetryingBackend(base, RetryConfig{
				MaxRetries:     cfg.Storage.Retry.MaxAttempts,
				InitialBackoff: cfg.Storage.Retry.InitialBackoff,
				Jitter:         cfg.Storage.Retry.Jitter,
			})
			return NewBreakingBackend("primary", retrying, BreakerConfig{
				ConsecutiveTrips: uint32(cfg.Storage.Retry.BreakerTripAt),
				OpenFor:          cfg.Storage.Retry.BreakerOpenFor,
			})
		},
	),
)
