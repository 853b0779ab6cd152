package cluster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	capi "github.com/hashicorp/consul/api"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// heartbeat is the payload each node writes for itself under the
// membership prefix. Staleness is judged by At rather than a consul
// session TTL, keeping the membership surface to plain KV Put/List —
// the same primitive storage.ConsulBackend already uses.
type heartbeat struct {
	Node Node      `json:"node"`
	At   time.Time `json:"at"`
}

// Membership tracks which nodes are currently alive via periodic KV
// heartbeats. Grounded on infra/client/di/module.go's lifecycle-hook
// pattern for owning an external client's background goroutine.
type Membership struct {
	kv     *capi.KV
	prefix string
	self   Node
	period time.Duration
	stale  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

func NewMembership(client *capi.Client, prefix string, self Node, logger *slog.Logger) *Membership {
	if prefix == "" {
		prefix = "titan/members"
	}
	return &Membership{
		kv:     client.KV(),
		prefix: prefix,
		self:   self,
		period: 5 * time.Second,
		stale:  20 * time.Second,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (m *Membership) path(id string) string { return m.prefix + "/" + id }

// Start begins heartbeating this node and blocks until the first heartbeat
// lands, so callers can rely on Self() being visible to List() immediately
// after Start returns.
func (m *Membership) Start(ctx context.Context) error {
	if err := m.beat(); err != nil {
		return err
	}
	go m.loop()
	return nil
}

func (m *Membership) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.stopCh)
}

func (m *Membership) loop() {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.beat(); err != nil {
				m.logger.Warn("MEMBERSHIP_HEARTBEAT_FAILED", slog.Any("err", err))
			}
		}
	}
}

func (m *Membership) beat() error {
	payload, err := json.Marshal(heartbeat{Node: m.self, At: time.Now()})
	if err != nil {
		return titanerr.Wrap(titanerr.Fatal, err, "membership: encode heartbeat")
	}
	_, err = m.kv.Put(&capi.KVPair{Key: m.path(m.self.ID), Value: payload}, nil)
	if err != nil {
		return titanerr.Wrap(titanerr.Transient, err, "membership: put heartbeat")
	}
	return nil
}

// Self returns the node this Membership beats for.
func (m *Membership) Self() Node { return m.self }

// List returns every node whose heartbeat is still fresh.
func (m *Membership) List(ctx context.Context) ([]Node, error) {
	pairs, _, err := m.kv.List(m.prefix+"/", nil)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Transient, err, "membership: list")
	}

	var live []Node
	now := time.Now()
	for _, pair := range pairs {
		var hb heartbeat
		if jerr := json.Unmarshal(pair.Value, &hb); jerr != nil {
			continue
		}
		if now.Sub(hb.At) <= m.stale {
			live = append(live, hb.Node)
		}
	}
	return live, nil
}
