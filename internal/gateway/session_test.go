package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSessionStore(t *testing.T, lifetime time.Duration, sliding bool, maxPerUser int) *SessionStore {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store := storage.NewSlotStore(map[string]storage.SlotSpec{
		sessionStoreSlot: {Backend: backend, Codec: storage.TextCodec{}},
	})
	return NewSessionStore(store, testLogger(), lifetime, sliding, maxPerUser)
}

func TestSessionStoreCreateAndResolve(t *testing.T) {
	s := testSessionStore(t, time.Hour, false, 8)
	ctx := context.Background()

	rec, err := s.Create(ctx, Principal{UserID: "alice", Roles: []string{"player"}}, "dev")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resolved, err := s.Resolve(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.UserID != "alice" {
		t.Fatalf("expected userID alice, got %q", resolved.UserID)
	}
}

func TestSessionStoreResolveExpired(t *testing.T) {
	s := testSessionStore(t, -time.Second, false, 8)
	ctx := context.Background()

	rec, err := s.Create(ctx, Principal{UserID: "bob"}, "dev")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = s.Resolve(ctx, rec.SessionID)
	if !titanerr.Is(err, titanerr.Unauthorized) {
		t.Fatalf("expected Unauthorized for expired session, got %v", err)
	}
}

func TestSessionStoreEvictsOldestPastMaxPerUser(t *testing.T) {
	s := testSessionStore(t, time.Hour, false, 2)
	ctx := context.Background()
	principal := Principal{UserID: "carol"}

	first, err := s.Create(ctx, principal, "dev")
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	if _, err := s.Create(ctx, principal, "dev"); err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if _, err := s.Create(ctx, principal, "dev"); err != nil {
		t.Fatalf("create 3: %v", err)
	}

	if _, err := s.Resolve(ctx, first.SessionID); err == nil {
		t.Fatal("expected the oldest session to have been evicted")
	}
}

func TestSessionStoreLogoutAll(t *testing.T) {
	s := testSessionStore(t, time.Hour, false, 8)
	ctx := context.Background()
	principal := Principal{UserID: "dana"}

	a, err := s.Create(ctx, principal, "dev")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := s.Create(ctx, principal, "dev")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	if err := s.LogoutAll(ctx, principal.UserID); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	if _, err := s.Resolve(ctx, a.SessionID); err == nil {
		t.Fatal("expected session a to be gone")
	}
	if _, err := s.Resolve(ctx, b.SessionID); err == nil {
		t.Fatal("expected session b to be gone")
	}
}
