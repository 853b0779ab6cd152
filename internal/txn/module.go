package txn

import (
	"log/slog"

	"github.com/titan-mmo/titan/internal/storage"
	"go.uber.org/fx"
)

// Module wires the Coordinator's durable transaction log onto the shared
// storage backend, bound to the text codec per spec.md §4.4.
var Module = fx.Module("txn",
	fx.Provide(func(backend storage.Backend, registry *storage.Registry, logger *slog.Logger) *Coordinator {
		textCodec, _ := registry.Resolve(storage.CodecText)
		store := storage.NewSlotStore(map[string]storage.SlotSpec{
			txStoreSlot: {Backend: backend, Codec: textCodec},
		})
		return NewCoordinator(store, logger)
	}),
)
