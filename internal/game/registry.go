package game

import (
	"context"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const baseTypeKind = "BaseTypeDef"

// BaseTypeDef is an item template: the tradeability and other ruleset
// flags every instance of a base type shares.
type BaseTypeDef struct {
	Name      string
	Tradeable bool
}

// baseTypeCell is a stateless-worker cell (spec.md §4.2: "the runtime may
// keep several replicas of the same identity on the same node to fan-out
// read-heavy work... must not rely on state across calls"). It rebuilds
// its entire view from the seed table on every activation rather than
// reading a state slot, which is what makes several concurrent replicas
// safe.
type baseTypeCell struct {
	identity cell.Identity
	seed     map[string]BaseTypeDef
}

func (c *baseTypeCell) Identity() cell.Identity { return c.identity }

// Registry resolves item base-type definitions (the BaseTypeHub surface).
type Registry struct {
	runtime cell.Invoker
}

// NewRegistry seeds a fixed set of base types. A real deployment would
// hydrate this from its own slot/import pipeline; that's out of spec.md
// §1's scope ("the concrete domain logic ... beyond what is needed to
// illustrate the runtime contracts").
func NewRegistry(runtime cell.Invoker, seed map[string]BaseTypeDef) *Registry {
	if seed == nil {
		seed = map[string]BaseTypeDef{}
	}
	runtime.Register(cell.KindSpec{
		Kind: baseTypeKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &baseTypeCell{identity: id, seed: seed}, nil
		},
		StatelessWorker: true,
	})
	return &Registry{runtime: runtime}
}

func baseTypeIdentity() cell.Identity {
	return cell.New(baseTypeKind, cell.StringKey("default"))
}

// Get looks up a base type's ruleset by name.
func (r *Registry) Get(ctx context.Context, name string) (BaseTypeDef, error) {
	id := baseTypeIdentity()
	v, err := r.runtime.Invoke(ctx, id, "get", func(ctx context.Context, self cell.Cell) (any, error) {
		bc := self.(*baseTypeCell)
		def, ok := bc.seed[name]
		if !ok {
			return nil, titanerr.New(titanerr.NotFound, "game: base type %q not registered", name)
		}
		return def, nil
	})
	if err != nil {
		return BaseTypeDef{}, err
	}
	return v.(BaseTypeDef), nil
}
