package game

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/titan-mmo/titan/internal/titanerr"
)

func TestRegistryGetKnownBaseType(t *testing.T) {
	rt := testRuntime(t)
	registry := NewRegistry(rt, defaultBaseTypes)

	def, err := registry.Get(context.Background(), "sword")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !def.Tradeable {
		t.Fatalf("expected sword to be tradeable")
	}
}

func TestRegistryGetUnknownBaseTypeIsNotFound(t *testing.T) {
	rt := testRuntime(t)
	registry := NewRegistry(rt, defaultBaseTypes)

	if _, err := registry.Get(context.Background(), "does-not-exist"); !titanerr.Is(err, titanerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

// TestRegistryGetConcurrentReplicasAgree exercises the StatelessWorker
// property baseTypeCell relies on: many concurrent Get calls, each
// potentially landing on a different replica, must all see the same seed
// data.
func TestRegistryGetConcurrentReplicasAgree(t *testing.T) {
	rt := testRuntime(t)
	registry := NewRegistry(rt, defaultBaseTypes)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			def, err := registry.Get(context.Background(), "shield")
			if err != nil {
				errs <- err
				return
			}
			if def.Name != "shield" || !def.Tradeable {
				errs <- fmt.Errorf("unexpected base type definition: %+v", def)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent get: %v", err)
		}
	}
}
