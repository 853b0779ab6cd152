package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
	"github.com/titan-mmo/titan/internal/txn"
)

const (
	sessionKind      = "Session"
	sessionSlot      = "Primary"
	userIndexKind    = "UserSessionIndex"
	userIndexSlot    = "Primary"
)

type userIndex struct {
	SessionIDs []string `json:"sessionIds"`
}

// SessionStore persists login sessions and the per-user index
// `logoutAll` needs (spec.md §4.6). Index updates for one user are
// serialized through a SlotLocks lock rather than a cell mailbox: sessions
// are high-volume, short-lived records that don't warrant the full
// activation lifecycle C2 gives domain cells.
type SessionStore struct {
	store  *storage.SlotStore
	locks  *txn.SlotLocks
	logger *slog.Logger

	lifetime   time.Duration
	sliding    bool
	maxPerUser int
}

func NewSessionStore(store *storage.SlotStore, logger *slog.Logger, lifetime time.Duration, sliding bool, maxPerUser int) *SessionStore {
	return &SessionStore{
		store:      store,
		locks:      txn.NewSlotLocks(),
		logger:     logger,
		lifetime:   lifetime,
		sliding:    sliding,
		maxPerUser: maxPerUser,
	}
}

// Create mints a new session for principal, evicting the oldest session
// for that user if MaxPerUser is exceeded.
func (s *SessionStore) Create(ctx context.Context, principal Principal, provider string) (SessionRecord, error) {
	release, err := s.locks.Acquire(ctx, userIndexKind+"/"+principal.UserID)
	if err != nil {
		return SessionRecord{}, err
	}
	defer release()

	rec := SessionRecord{
		SessionID:         uuid.NewString(),
		UserID:            principal.UserID,
		Roles:             principal.Roles,
		Provider:          provider,
		ExpiresAt:         time.Now().Add(s.lifetime),
		SlidingExpiration: s.sliding,
	}
	if _, err := s.store.Save(ctx, sessionKind, rec.SessionID, sessionSlot, rec, storage.EtagNone); err != nil {
		return SessionRecord{}, err
	}

	var idx userIndex
	etag, err := s.store.Load(ctx, userIndexKind, principal.UserID, userIndexSlot, &idx)
	if err != nil && !titanerr.Is(err, titanerr.NotFound) {
		return SessionRecord{}, err
	}
	idx.SessionIDs = append(idx.SessionIDs, rec.SessionID)

	if s.maxPerUser > 0 {
		for len(idx.SessionIDs) > s.maxPerUser {
			evict := idx.SessionIDs[0]
			idx.SessionIDs = idx.SessionIDs[1:]
			if err := s.deleteSession(ctx, evict); err != nil {
				s.logger.Warn("SESSION_EVICT_FAILED", slog.String("session", evict), slog.Any("err", err))
			}
		}
	}

	if _, err := s.store.Save(ctx, userIndexKind, principal.UserID, userIndexSlot, idx, etag); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// Resolve loads a session and, if it is sliding and still valid, extends
// its expiry.
func (s *SessionStore) Resolve(ctx context.Context, sessionID string) (SessionRecord, error) {
	var rec SessionRecord
	etag, err := s.store.Load(ctx, sessionKind, sessionID, sessionSlot, &rec)
	if err != nil {
		return SessionRecord{}, err
	}
	if time.Now().After(rec.ExpiresAt) {
		_ = s.store.Clear(ctx, sessionKind, sessionID, sessionSlot, etag)
		return SessionRecord{}, titanerr.New(titanerr.Unauthorized, "gateway: session %s expired", sessionID)
	}
	if rec.SlidingExpiration {
		rec.ExpiresAt = time.Now().Add(s.lifetime)
		if _, err := s.store.Save(ctx, sessionKind, sessionID, sessionSlot, rec, etag); err != nil {
			s.logger.Warn("SESSION_SLIDE_FAILED", slog.String("session", sessionID), slog.Any("err", err))
		}
	}
	return rec, nil
}

// Logout invalidates one session.
func (s *SessionStore) Logout(ctx context.Context, sessionID string) error {
	var rec SessionRecord
	if _, err := s.store.Load(ctx, sessionKind, sessionID, sessionSlot, &rec); err != nil {
		return err
	}
	release, err := s.locks.Acquire(ctx, userIndexKind+"/"+rec.UserID)
	if err != nil {
		return err
	}
	defer release()
	return s.removeFromIndex(ctx, rec.UserID, sessionID)
}

// LogoutAll invalidates every session belonging to userID.
func (s *SessionStore) LogoutAll(ctx context.Context, userID string) error {
	release, err := s.locks.Acquire(ctx, userIndexKind+"/"+userID)
	if err != nil {
		return err
	}
	defer release()

	var idx userIndex
	etag, err := s.store.Load(ctx, userIndexKind, userID, userIndexSlot, &idx)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	for _, id := range idx.SessionIDs {
		if err := s.deleteSession(ctx, id); err != nil {
			s.logger.Warn("SESSION_EVICT_FAILED", slog.String("session", id), slog.Any("err", err))
		}
	}
	return s.store.Clear(ctx, userIndexKind, userID, userIndexSlot, etag)
}

func (s *SessionStore) removeFromIndex(ctx context.Context, userID, sessionID string) error {
	var idx userIndex
	etag, err := s.store.Load(ctx, userIndexKind, userID, userIndexSlot, &idx)
	if err != nil && !titanerr.Is(err, titanerr.NotFound) {
		return err
	}
	kept := idx.SessionIDs[:0]
	for _, id := range idx.SessionIDs {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	idx.SessionIDs = kept
	if err := s.deleteSession(ctx, sessionID); err != nil {
		return err
	}
	_, err = s.store.Save(ctx, userIndexKind, userID, userIndexSlot, idx, etag)
	return err
}

func (s *SessionStore) deleteSession(ctx context.Context, sessionID string) error {
	var rec SessionRecord
	etag, err := s.store.Load(ctx, sessionKind, sessionID, sessionSlot, &rec)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	return s.store.Clear(ctx, sessionKind, sessionID, sessionSlot, etag)
}
