package cell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/titan-mmo/titan/internal/titanerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type counterCell struct {
	identity Identity
	calls    int
}

func (c *counterCell) Identity() Identity { return c.identity }

func newCounterRuntime(t *testing.T, idle time.Duration) (*Runtime, string) {
	t.Helper()
	rt := NewRuntime(testLogger(), WithEvictInterval(10*time.Millisecond))
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	rt.Register(KindSpec{
		Kind: "counter",
		New: func(id Identity) (Cell, error) {
			return &counterCell{identity: id}, nil
		},
		IdleTimeout: idle,
	})
	return rt, "counter"
}

func TestRuntimeInvokeSerializesPerIdentity(t *testing.T) {
	rt, kind := newCounterRuntime(t, 0)
	id := New(kind, StringKey("acct-1"))

	var concurrent int32
	var maxConcurrent int32
	const n = 50
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := rt.Invoke(context.Background(), id, "bump", func(ctx context.Context, self Cell) (any, error) {
				cur := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if cur <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil, nil
			})
			errCh <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}
	if maxConcurrent != 1 {
		t.Fatalf("expected serialized execution, saw max concurrency %d", maxConcurrent)
	}
}

func TestRuntimeReentrantCallRequiresInterleavable(t *testing.T) {
	rt := NewRuntime(testLogger())
	defer rt.Shutdown(context.Background())
	rt.Register(KindSpec{
		Kind: "counter",
		New: func(id Identity) (Cell, error) {
			return &counterCell{identity: id}, nil
		},
	})
	id := New("counter", StringKey("acct-2"))

	// Non-interleavable reentrant call must fail with Fatal.
	_, err := rt.Invoke(context.Background(), id, "outer", func(ctx context.Context, self Cell) (any, error) {
		return rt.Invoke(ctx, id, "inner", func(ctx context.Context, self Cell) (any, error) {
			return "unreachable", nil
		})
	})
	if !titanerr.Is(err, titanerr.Fatal) {
		t.Fatalf("expected Fatal reentrant error, got %v", err)
	}
}

func TestRuntimeReentrantCallInterleavableSucceeds(t *testing.T) {
	rt := NewRuntime(testLogger())
	defer rt.Shutdown(context.Background())
	rt.Register(KindSpec{
		Kind: "counter",
		New: func(id Identity) (Cell, error) {
			return &interleavableCell{counterCell: counterCell{identity: id}}, nil
		},
	})
	id := New("counter", StringKey("acct-3"))

	val, err := rt.Invoke(context.Background(), id, "outer", func(ctx context.Context, self Cell) (any, error) {
		return rt.Invoke(ctx, id, "inner", func(ctx context.Context, self Cell) (any, error) {
			return "reached", nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "reached" {
		t.Fatalf("expected reached, got %v", val)
	}
}

type interleavableCell struct {
	counterCell
}

func (c *interleavableCell) Interleavable(op string) bool { return true }

func TestRuntimeActivationTimesOutOnExpiredContext(t *testing.T) {
	rt := NewRuntime(testLogger())
	defer rt.Shutdown(context.Background())
	rt.Register(KindSpec{
		Kind:        "counter",
		New:         func(id Identity) (Cell, error) { return &counterCell{identity: id}, nil },
		MailboxSize: 1,
	})
	id := New("counter", StringKey("acct-4"))

	block := make(chan struct{})
	go rt.Invoke(context.Background(), id, "hold", func(ctx context.Context, self Cell) (any, error) {
		<-block
		return nil, nil
	})
	time.Sleep(10 * time.Millisecond) // ensure the holder is running

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rt.Invoke(ctx, id, "blocked", func(ctx context.Context, self Cell) (any, error) {
		return nil, nil
	})
	close(block)
	if !titanerr.Is(err, titanerr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestRuntimePassivatesIdleActivation(t *testing.T) {
	rt, kind := newCounterRuntime(t, 5*time.Millisecond)
	id := New(kind, StringKey("acct-5"))

	_, err := rt.Invoke(context.Background(), id, "touch", func(ctx context.Context, self Cell) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		rt.mu.RLock()
		_, present := rt.activations[id]
		rt.mu.RUnlock()
		if !present {
			return
		}
		select {
		case <-deadline:
			t.Fatal("activation was not passivated in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRuntimeUnregisteredKindFails(t *testing.T) {
	rt := NewRuntime(testLogger())
	defer rt.Shutdown(context.Background())
	id := New("nope", StringKey("x"))
	_, err := rt.Invoke(context.Background(), id, "op", func(ctx context.Context, self Cell) (any, error) {
		return nil, nil
	})
	if !titanerr.Is(err, titanerr.Fatal) {
		t.Fatalf("expected Fatal for unregistered kind, got %v", err)
	}
}

// identityCell reports which *identityCell instance ran a call, so a test
// can tell whether two invocations against the same Identity landed on the
// same activation or on distinct replicas.
type identityCell struct {
	identity Identity
}

func (c *identityCell) Identity() Identity { return c.identity }

func TestRuntimeStatelessWorkerFansOutAcrossReplicas(t *testing.T) {
	rt := NewRuntime(testLogger(), WithReplicaFanout(3))
	defer rt.Shutdown(context.Background())
	rt.Register(KindSpec{
		Kind:            "worker",
		New:             func(id Identity) (Cell, error) { return &identityCell{identity: id}, nil },
		StatelessWorker: true,
	})
	id := New("worker", StringKey("shared"))

	// Hold the first WithReplicaFanout(3) calls in flight simultaneously so
	// getOrActivateReplica is forced to grow the pool past one instead of
	// reusing the same activation for every sequential call.
	release := make(chan struct{})
	var wg sync.WaitGroup
	seen := make(chan *identityCell, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Invoke(context.Background(), id, "hold", func(ctx context.Context, self Cell) (any, error) {
				seen <- self.(*identityCell)
				<-release
				return nil, nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(seen)

	distinct := make(map[*identityCell]struct{})
	for c := range seen {
		distinct[c] = struct{}{}
	}
	if len(distinct) < 2 {
		t.Fatalf("expected concurrent calls to a StatelessWorker kind to land on more than one replica, got %d distinct instance(s)", len(distinct))
	}

	rt.mu.RLock()
	poolSize := len(rt.workerPool[id])
	rt.mu.RUnlock()
	if poolSize == 0 || poolSize > 3 {
		t.Fatalf("expected the replica pool to hold between 1 and the configured fanout (3), got %d", poolSize)
	}
}

func TestRuntimeNonStatelessKindNeverGrowsReplicaPool(t *testing.T) {
	rt, kind := newCounterRuntime(t, 0)
	id := New(kind, StringKey("solo"))

	for i := 0; i < 5; i++ {
		if _, err := rt.Invoke(context.Background(), id, "touch", func(ctx context.Context, self Cell) (any, error) {
			return nil, nil
		}); err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}

	rt.mu.RLock()
	_, inPool := rt.workerPool[id]
	_, inActivations := rt.activations[id]
	rt.mu.RUnlock()
	if inPool {
		t.Fatalf("a non-StatelessWorker kind must never populate the replica pool")
	}
	if !inActivations {
		t.Fatalf("expected a single shared activation in the activations map")
	}
}

func TestRuntimeActivationFactoryErrorIsTransient(t *testing.T) {
	rt := NewRuntime(testLogger())
	defer rt.Shutdown(context.Background())
	rt.Register(KindSpec{
		Kind: "broken",
		New: func(id Identity) (Cell, error) {
			return nil, errors.New("boom")
		},
	})
	id := New("broken", StringKey("x"))
	_, err := rt.Invoke(context.Background(), id, "op", func(ctx context.Context, self Cell) (any, error) {
		return nil, nil
	})
	if !titanerr.Is(err, titanerr.Transient) {
		t.Fatalf("expected Transient, got %v", err)
	}
}
