package gateway

import (
	"context"
	"time"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const (
	sessionLogKind     = "SessionLog"
	sessionLogSlot     = "Primary"
	sessionLogCapacity = 20
)

type sessionLogEntry struct {
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

type sessionLogState struct {
	Entries []sessionLogEntry `json:"entries"`
}

// sessionLogCell is the persisted, bounded ring of a principal's recent
// connections (spec.md §4.6). Opened on first connection, closed on last
// disconnection.
type sessionLogCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	state    sessionLogState
}

func (c *sessionLogCell) Identity() cell.Identity { return c.identity }

func (c *sessionLogCell) OnActivate(ctx context.Context) error {
	etag, err := c.store.Load(ctx, c.identity.Kind, c.identity.Key.String(), sessionLogSlot, &c.state)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	c.etag = etag
	return nil
}

func (c *sessionLogCell) persist(ctx context.Context) error {
	etag, err := c.store.Save(ctx, c.identity.Kind, c.identity.Key.String(), sessionLogSlot, c.state, c.etag)
	if err != nil {
		return err
	}
	c.etag = etag
	return nil
}

// SessionLog opens and closes entries in a principal's SessionLog cell.
type SessionLog struct {
	runtime cell.Invoker
}

func NewSessionLog(runtime cell.Invoker, store *storage.SlotStore) *SessionLog {
	runtime.Register(cell.KindSpec{
		Kind: sessionLogKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &sessionLogCell{identity: id, store: store}, nil
		},
	})
	return &SessionLog{runtime: runtime}
}

// Open appends a new open entry, trimming to sessionLogCapacity.
func (s *SessionLog) Open(ctx context.Context, userID string) error {
	id := cell.New(sessionLogKind, cell.StringKey(userID))
	_, err := s.runtime.Invoke(ctx, id, "open", func(ctx context.Context, self cell.Cell) (any, error) {
		lc := self.(*sessionLogCell)
		lc.state.Entries = append(lc.state.Entries, sessionLogEntry{ConnectedAt: time.Now()})
		if over := len(lc.state.Entries) - sessionLogCapacity; over > 0 {
			lc.state.Entries = lc.state.Entries[over:]
		}
		return nil, lc.persist(ctx)
	})
	return err
}

// Close marks the most recent open entry as disconnected.
func (s *SessionLog) Close(ctx context.Context, userID string) error {
	id := cell.New(sessionLogKind, cell.StringKey(userID))
	_, err := s.runtime.Invoke(ctx, id, "close", func(ctx context.Context, self cell.Cell) (any, error) {
		lc := self.(*sessionLogCell)
		for i := len(lc.state.Entries) - 1; i >= 0; i-- {
			if lc.state.Entries[i].DisconnectedAt == nil {
				now := time.Now()
				lc.state.Entries[i].DisconnectedAt = &now
				break
			}
		}
		return nil, lc.persist(ctx)
	})
	return err
}
