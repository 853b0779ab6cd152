package gateway

import (
	"context"
	"testing"
)

func TestPresenceConnectAndDisconnect(t *testing.T) {
	p := NewPresence(testRuntime(t))
	ctx := context.Background()

	first, err := p.Connect(ctx, "alice")
	if err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	if !first {
		t.Fatal("expected first connection to report firstConnection=true")
	}

	second, err := p.Connect(ctx, "alice")
	if err != nil {
		t.Fatalf("connect 2: %v", err)
	}
	if second {
		t.Fatal("expected second connection to report firstConnection=false")
	}

	online, err := p.IsOnline(ctx, "alice")
	if err != nil {
		t.Fatalf("is online: %v", err)
	}
	if !online {
		t.Fatal("expected alice to be online")
	}

	last, err := p.Disconnect(ctx, "alice")
	if err != nil {
		t.Fatalf("disconnect 1: %v", err)
	}
	if last {
		t.Fatal("expected first disconnect to not be the last")
	}

	last, err = p.Disconnect(ctx, "alice")
	if err != nil {
		t.Fatalf("disconnect 2: %v", err)
	}
	if !last {
		t.Fatal("expected second disconnect to be the last")
	}

	online, err = p.IsOnline(ctx, "alice")
	if err != nil {
		t.Fatalf("is online after disconnect: %v", err)
	}
	if online {
		t.Fatal("expected alice to be offline")
	}
}

func TestPresenceIsOnlineForUnknownUser(t *testing.T) {
	p := NewPresence(testRuntime(t))
	online, err := p.IsOnline(context.Background(), "never-connected")
	if err != nil {
		t.Fatalf("is online: %v", err)
	}
	if online {
		t.Fatal("expected an unknown user to be offline")
	}
}
