package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type listenerCell struct {
	identity cell.Identity
}

func (c *listenerCell) Identity() cell.Identity { return c.identity }

func testRuntime(t *testing.T) *cell.Runtime {
	t.Helper()
	rt := cell.NewRuntime(testLogger())
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	rt.Register(cell.KindSpec{
		Kind: "listener",
		New: func(id cell.Identity) (cell.Cell, error) {
			return &listenerCell{identity: id}, nil
		},
	})
	return rt
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store := storage.NewSlotStore(map[string]storage.SlotSpec{
		SubscriptionsSlot: {Backend: backend, Codec: storage.TextCodec{}},
	})
	provider := NewMemoryProvider(testLogger())
	t.Cleanup(func() { provider.Close() })
	return NewManager(provider, testRuntime(t), store, testLogger())
}

type tradeOffered struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func TestManagerDeliversPublishedEventThroughSubscriberMailbox(t *testing.T) {
	m := testManager(t)
	subscriber := cell.New("listener", cell.StringKey("alice"))

	received := make(chan tradeOffered, 1)
	sub, err := m.Subscribe(context.Background(), "trade.offers", subscriber, Block, 0,
		func(ctx context.Context, payload []byte) error {
			var ev tradeOffered
			if err := json.Unmarshal(payload, &ev); err != nil {
				return err
			}
			received <- ev
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(context.Background())

	if err := m.Publisher("trade.offers").Publish(context.Background(), tradeOffered{From: "bob", To: "alice"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-received:
		if ev.From != "bob" || ev.To != "alice" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestManagerPersistsSubscriptionBookkeeping(t *testing.T) {
	m := testManager(t)
	subscriber := cell.New("listener", cell.StringKey("carol"))

	sub, err := m.Subscribe(context.Background(), "presence.updates", subscriber, Block, 0,
		func(ctx context.Context, payload []byte) error { return nil })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var bk bookkeeping
	if _, err := m.store.Load(context.Background(), subscriber.Kind, subscriber.Key.String(), SubscriptionsSlot, &bk); err != nil {
		t.Fatalf("load bookkeeping: %v", err)
	}
	if len(bk.StreamIDs) != 1 || bk.StreamIDs[0] != "presence.updates" {
		t.Fatalf("expected bookkeeping to list presence.updates, got %+v", bk.StreamIDs)
	}

	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if _, err := m.store.Load(context.Background(), subscriber.Kind, subscriber.Key.String(), SubscriptionsSlot, &bk); err != nil {
		t.Fatalf("load bookkeeping after unsubscribe: %v", err)
	}
	if len(bk.StreamIDs) != 0 {
		t.Fatalf("expected bookkeeping to be empty after unsubscribe, got %+v", bk.StreamIDs)
	}
}

func TestManagerDropOldestPolicySkipsOverCapacityMessages(t *testing.T) {
	m := testManager(t)
	subscriber := cell.New("listener", cell.StringKey("dana"))

	block := make(chan struct{})
	processed := make(chan struct{}, 8)
	sub, err := m.Subscribe(context.Background(), "chat.room1", subscriber, DropOldest, 1,
		func(ctx context.Context, payload []byte) error {
			<-block
			processed <- struct{}{}
			return nil
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe(context.Background())

	pub := m.Publisher("chat.room1")
	for i := 0; i < 5; i++ {
		if err := pub.Publish(context.Background(), map[string]int{"seq": i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	time.Sleep(50 * time.Millisecond) // let the first message start processing and the rest arrive
	close(block)

	select {
	case <-processed:
	case <-time.After(time.Second):
		t.Fatal("expected at least the first message to be processed")
	}
}
