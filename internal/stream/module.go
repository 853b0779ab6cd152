package stream

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/storage"
)

const storeSlot = SubscriptionsSlot

func newProvider(cfg *config.Config, logger *slog.Logger, lc fx.Lifecycle) (Provider, error) {
	var provider Provider
	var err error
	switch cfg.Streams.ProviderName {
	case "amqp":
		provider, err = NewAMQPProvider(cfg.Streams.AMQPURL, logger)
	default:
		provider = NewMemoryProvider(logger)
	}
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return provider.Close() },
	})
	return provider, nil
}

func newManager(provider Provider, runtime cell.Invoker, backend storage.Backend, registry *storage.Registry, logger *slog.Logger) *Manager {
	textCodec, _ := registry.Resolve(storage.CodecText)
	store := storage.NewSlotStore(map[string]storage.SlotSpec{
		storeSlot: {Backend: backend, Codec: textCodec},
	})
	return NewManager(provider, runtime, store, logger)
}

// Module wires the stream substrate: a Provider selected by the
// `streams.provider_name` config key (spec.md §4.5's memory/amqp choice)
// and the Manager cells use to publish and subscribe.
var Module = fx.Module("stream",
	fx.Provide(newProvider, newManager),
)
