package game

import (
	"go.uber.org/fx"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/gateway"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/stream"
	"github.com/titan-mmo/titan/internal/txn"
)

// defaultBaseTypes seeds the Registry with the handful of item templates
// the illustrative Trade scenarios need. A real deployment would load
// these from a content pipeline; out of scope here (spec.md §1).
var defaultBaseTypes = map[string]BaseTypeDef{
	"sword":    {Name: "sword", Tradeable: true},
	"shield":   {Name: "shield", Tradeable: true},
	"heirloom": {Name: "heirloom", Tradeable: false},
}

func newSlotStore(slot string, backend storage.Backend, registry *storage.Registry) *storage.SlotStore {
	textCodec, _ := registry.Resolve(storage.CodecText)
	return storage.NewSlotStore(map[string]storage.SlotSpec{
		slot: {Backend: backend, Codec: textCodec},
	})
}

func newAccounts(runtime cell.Invoker, backend storage.Backend, registry *storage.Registry) *Accounts {
	return NewAccounts(runtime, newSlotStore(accountSlot, backend, registry))
}

func newSeasons(runtime cell.Invoker, backend storage.Backend, registry *storage.Registry) *Seasons {
	return NewSeasons(runtime, newSlotStore(seasonSlot, backend, registry))
}

func newCharacters(runtime cell.Invoker, seasons *Seasons, backend storage.Backend, registry *storage.Registry) *Characters {
	return NewCharacters(runtime, seasons, newSlotStore(characterSlot, backend, registry))
}

func newInventories(runtime cell.Invoker, backend storage.Backend, registry *storage.Registry) *Inventories {
	return NewInventories(runtime, newSlotStore(inventorySlot, backend, registry))
}

func newTrades(runtime cell.Invoker, seasons *Seasons, characters *Characters, inventories *Inventories, coordinator *txn.Coordinator, streams *stream.Manager, backend storage.Backend, registry *storage.Registry) *Trades {
	return NewTrades(runtime, seasons, characters, inventories, coordinator, streams, newSlotStore(tradeSlot, backend, registry))
}

func newRegistry(runtime cell.Invoker) *Registry {
	return NewRegistry(runtime, defaultBaseTypes)
}

// Module wires the illustrative game domain: Account, Season, Character,
// Inventory, Trade, and Registry cells, plus the Dispatcher that answers
// the gateway's websocket/gRPC transports (spec.md §6).
var Module = fx.Module("game",
	fx.Provide(
		newAccounts,
		newSeasons,
		newCharacters,
		newInventories,
		newTrades,
		newRegistry,
		fx.Annotate(NewDispatcher, fx.As(new(gateway.Dispatcher))),
	),
)
