package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// SubscriptionsSlot is the slot name subscriber cells bind to the text
// codec so their subscription bookkeeping survives their own restarts
// (spec.md §4.5).
const SubscriptionsSlot = "StreamSubscriptions"

// bookkeeping is the durable record of one subscriber's active streams.
type bookkeeping struct {
	StreamIDs []string `json:"streamIds"`
}

// Manager is the entry point cells use to publish onto and subscribe to
// streams.
type Manager struct {
	provider Provider
	runtime  cell.Invoker
	store    *storage.SlotStore
	logger   *slog.Logger
	node     string

	mu         sync.Mutex
	publishers map[string]*Publisher
}

func NewManager(provider Provider, runtime cell.Invoker, store *storage.SlotStore, logger *slog.Logger) *Manager {
	return &Manager{
		provider:   provider,
		runtime:    runtime,
		store:      store,
		logger:     logger,
		node:       nodeID(),
		publishers: make(map[string]*Publisher),
	}
}

// Publisher returns the (cached) Publisher bound to streamID.
func (m *Manager) Publisher(streamID string) *Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.publishers[streamID]; ok {
		return p
	}
	p := newPublisher(streamID, m.provider.Publisher())
	m.publishers[streamID] = p
	return p
}

// Subscribe connects subscriber to streamID with the given backpressure
// policy (maxPending only matters for DropOldest). Every delivered message
// runs through the subscriber's own cell mailbox.
func (m *Manager) Subscribe(ctx context.Context, streamID string, subscriber cell.Identity, policy BackpressurePolicy, maxPending int, handler Handler) (*Subscription, error) {
	queueSuffix := m.node + "." + subscriber.String()
	sub, err := m.provider.NewSubscriber(queueSuffix)
	if err != nil {
		return nil, err
	}

	msgs, err := sub.Subscribe(ctx, streamID)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Transient, err, "stream: %s: subscribe failed", streamID)
	}

	if err := m.recordBookkeeping(ctx, subscriber, streamID, true); err != nil {
		m.logger.Warn("STREAM_BOOKKEEPING_WRITE_FAILED",
			slog.String("subscriber", subscriber.String()), slog.String("stream", streamID), slog.Any("err", err))
	}

	s := &Subscription{
		manager:    m,
		streamID:   streamID,
		subscriber: subscriber,
		sub:        sub,
		msgs:       msgs,
		policy:     policy,
		maxPending: int32(maxPending),
		handler:    handler,
		done:       make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// SubscribeRaw connects a non-cell consumer — identified only by
// consumerID, used to build its queue identity against a durable provider
// — directly to streamID, bypassing cell-mailbox dispatch and durable
// bookkeeping. Used by C6's gateway connection groups, which fan events
// out to raw network connections rather than into a cell's own state.
func (m *Manager) SubscribeRaw(ctx context.Context, streamID, consumerID string, policy BackpressurePolicy, maxPending int, handler Handler) (*Subscription, error) {
	queueSuffix := m.node + ".raw." + consumerID
	sub, err := m.provider.NewSubscriber(queueSuffix)
	if err != nil {
		return nil, err
	}

	msgs, err := sub.Subscribe(ctx, streamID)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Transient, err, "stream: %s: subscribe failed", streamID)
	}

	s := &Subscription{
		manager:    m,
		streamID:   streamID,
		direct:     true,
		sub:        sub,
		msgs:       msgs,
		policy:     policy,
		maxPending: int32(maxPending),
		handler:    handler,
		done:       make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (m *Manager) recordBookkeeping(ctx context.Context, subscriber cell.Identity, streamID string, add bool) error {
	var bk bookkeeping
	etag, err := m.store.Load(ctx, subscriber.Kind, subscriber.Key.String(), SubscriptionsSlot, &bk)
	if err != nil && !titanerr.Is(err, titanerr.NotFound) {
		return err
	}

	set := make(map[string]struct{}, len(bk.StreamIDs)+1)
	for _, id := range bk.StreamIDs {
		set[id] = struct{}{}
	}
	if add {
		set[streamID] = struct{}{}
	} else {
		delete(set, streamID)
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	bk.StreamIDs = ids

	_, err = m.store.Save(ctx, subscriber.Kind, subscriber.Key.String(), SubscriptionsSlot, bk, etag)
	return err
}
