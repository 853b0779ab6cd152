package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/titanerr"
)

func testRuntime(t *testing.T) *cell.Runtime {
	t.Helper()
	rt := cell.NewRuntime(testLogger())
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	return rt
}

func TestTicketsIssueThenConsume(t *testing.T) {
	tickets := NewTickets(testRuntime(t), time.Minute)
	ctx := context.Background()

	id, err := tickets.Issue(ctx, Principal{UserID: "alice", Roles: []string{"player"}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	principal, err := tickets.Consume(ctx, id)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if principal.UserID != "alice" {
		t.Fatalf("expected alice, got %q", principal.UserID)
	}
}

func TestTicketsConsumeIsSingleUse(t *testing.T) {
	tickets := NewTickets(testRuntime(t), time.Minute)
	ctx := context.Background()

	id, err := tickets.Issue(ctx, Principal{UserID: "bob"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tickets.Consume(ctx, id); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := tickets.Consume(ctx, id); !titanerr.Is(err, titanerr.NotFound) {
		t.Fatalf("expected NotFound on second consume, got %v", err)
	}
}

func TestTicketsConsumeExpired(t *testing.T) {
	tickets := NewTickets(testRuntime(t), time.Millisecond)
	ctx := context.Background()

	id, err := tickets.Issue(ctx, Principal{UserID: "carol"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := tickets.Consume(ctx, id); !titanerr.Is(err, titanerr.Unauthorized) {
		t.Fatalf("expected Unauthorized for expired ticket, got %v", err)
	}
}

func TestTicketsConsumeUnknown(t *testing.T) {
	tickets := NewTickets(testRuntime(t), time.Minute)
	if _, err := tickets.Consume(context.Background(), "never-issued"); !titanerr.Is(err, titanerr.NotFound) {
		t.Fatalf("expected NotFound for unknown ticket, got %v", err)
	}
}
