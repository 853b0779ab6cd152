package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/titan-mmo/titan/internal/stream"
)

// group is one refcounted membership set fanning events out to every
// connector currently subscribed to it (spec.md §4.6: groups such as
// "trade:<tradeId>"), grounded on the teacher's registry.Hub per-key
// bookkeeping, generalized from per-user mailboxes to per-group broadcast.
type group struct {
	members map[string]Connector
	sub     *stream.Subscription
}

// Hub tracks group memberships across every connector attached to this
// node and keeps each group's C5 subscription alive exactly as long as it
// has members.
type Hub struct {
	mu          sync.Mutex
	groups      map[string]*group
	streams     *stream.Manager
	logger      *slog.Logger
	sendTimeout time.Duration
	consumerID  string
}

func NewHub(streams *stream.Manager, logger *slog.Logger, sendTimeout time.Duration) *Hub {
	return &Hub{
		groups:      make(map[string]*group),
		streams:     streams,
		logger:      logger,
		sendTimeout: sendTimeout,
		consumerID:  "gateway-hub",
	}
}

// Join adds conn as a member of groupName, subscribing the group to its
// backing stream on first membership.
func (h *Hub) Join(ctx context.Context, groupName string, conn Connector) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[groupName]
	if !ok {
		g = &group{members: make(map[string]Connector)}
		sub, err := h.streams.SubscribeRaw(ctx, groupName, h.consumerID, stream.Block, 0, h.fanOutHandler(groupName))
		if err != nil {
			return err
		}
		g.sub = sub
		h.groups[groupName] = g
	}
	g.members[conn.ID()] = conn
	return nil
}

// Leave removes connID from groupName, dropping the group's subscription
// once its last member leaves.
func (h *Hub) Leave(ctx context.Context, groupName string, connID string) error {
	h.mu.Lock()
	g, ok := h.groups[groupName]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(g.members, connID)
	empty := len(g.members) == 0
	if empty {
		delete(h.groups, groupName)
	}
	h.mu.Unlock()

	if empty {
		return g.sub.Unsubscribe(ctx)
	}
	return nil
}

// LeaveAll removes connID from every group it belongs to, for use on
// disconnect. Errors from individual unsubscribes are logged, not
// aggregated, and not retried; an emptied group is removed from the hub
// either way, so the next Join of that name opens a fresh subscription.
func (h *Hub) LeaveAll(ctx context.Context, connID string) {
	h.mu.Lock()
	var dropped []*group
	for name, g := range h.groups {
		if _, ok := g.members[connID]; ok {
			delete(g.members, connID)
			if len(g.members) == 0 {
				dropped = append(dropped, g)
				delete(h.groups, name)
			}
		}
	}
	h.mu.Unlock()

	for _, g := range dropped {
		if err := g.sub.Unsubscribe(ctx); err != nil {
			h.logger.Warn("GATEWAY_GROUP_UNSUBSCRIBE_FAILED", slog.Any("err", err))
		}
	}
}

func (h *Hub) fanOutHandler(groupName string) stream.Handler {
	return func(ctx context.Context, payload []byte) error {
		h.mu.Lock()
		g, ok := h.groups[groupName]
		members := make([]Connector, 0)
		if ok {
			for _, c := range g.members {
				members = append(members, c)
			}
		}
		h.mu.Unlock()

		ev := Envelope{Group: groupName, Event: "push", Data: payload}
		for _, c := range members {
			if !c.Send(ev, h.sendTimeout) {
				h.logger.Warn("GATEWAY_PUSH_DROPPED", slog.String("group", groupName), slog.String("conn", c.ID()))
			}
		}
		return nil
	}
}
