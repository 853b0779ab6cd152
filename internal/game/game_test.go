package game

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/cluster"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/stream"
	"github.com/titan-mmo/titan/internal/txn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRuntime(t *testing.T) *cell.Runtime {
	t.Helper()
	rt := cell.NewRuntime(testLogger())
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	return rt
}

// testInvoker wraps a fresh Runtime in a local-mode Router, the same
// cell.Invoker every game cell gets wired to in production (cluster.Module's
// newRouter, for a deployment with no membership store configured) — so
// these tests exercise Router's dispatch path, not a bare Runtime, without
// needing a consul instance to do it.
func testInvoker(t *testing.T) cell.Invoker {
	t.Helper()
	return cluster.NewLocalRouter(testRuntime(t), testLogger())
}

func testSlotStore(slot string) *storage.SlotStore {
	backend := storage.NewMemoryBackend()
	return storage.NewSlotStore(map[string]storage.SlotSpec{
		slot: {Backend: backend, Codec: storage.TextCodec{}},
	})
}

func testCoordinator(t *testing.T) *txn.Coordinator {
	t.Helper()
	return txn.NewCoordinator(testSlotStore("TransactionStore"), testLogger())
}

func testStreamManager(t *testing.T) *stream.Manager {
	t.Helper()
	provider := stream.NewMemoryProvider(testLogger())
	t.Cleanup(func() { provider.Close() })
	return stream.NewManager(provider, testInvoker(t), testSlotStore(stream.SubscriptionsSlot), testLogger())
}

// harness wires one of every game cell kind against a single Invoker, the
// same way game.Module does for a live node, so tests can exercise Trade's
// cross-cell two-phase commit without standing up fx.
type harness struct {
	invoker     cell.Invoker
	accounts    *Accounts
	seasons     *Seasons
	characters  *Characters
	inventories *Inventories
	trades      *Trades
	registry    *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	inv := testInvoker(t)
	seasons := NewSeasons(inv, testSlotStore(seasonSlot))
	characters := NewCharacters(inv, seasons, testSlotStore(characterSlot))
	inventories := NewInventories(inv, testSlotStore(inventorySlot))
	streams := testStreamManager(t)
	trades := NewTrades(inv, seasons, characters, inventories, testCoordinator(t), streams, testSlotStore(tradeSlot))
	return &harness{
		invoker:     inv,
		accounts:    NewAccounts(inv, testSlotStore(accountSlot)),
		seasons:     seasons,
		characters:  characters,
		inventories: inventories,
		trades:      trades,
		registry:    NewRegistry(inv, defaultBaseTypes),
	}
}
