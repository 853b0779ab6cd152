// Package game holds the illustrative domain cells spec.md §2 describes as
// "specified only at the interface level": Account, Character, Inventory,
// Trade, and a small item-definition Registry, built on internal/cell the
// same way internal/gateway's ticket/presence/session-log cells are, and
// exercising internal/txn's two-phase commit (Trade) and internal/rules'
// composable validators (Trade's SameSeason/SoloSelfFound). These exist to
// prove the runtime contracts end to end, not to be a complete game.
package game

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const (
	seasonKind = "Season"
	seasonSlot = "Primary"
)

type seasonState struct {
	Name              string     `json:"name"`
	Hardcore          bool       `json:"hardcore"`
	Void              bool       `json:"void"`
	SoloSelfFound     bool       `json:"soloSelfFound"`
	PermanentFallback *uuid.UUID `json:"permanentFallback,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// seasonCell holds a season's ruleset (spec.md §8 scenario 4: "a
// temporary season with Hardcore restriction" migrating a dead character
// into "the permanent fallback season").
type seasonCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	state    seasonState
}

func (c *seasonCell) Identity() cell.Identity { return c.identity }

func (c *seasonCell) OnActivate(ctx context.Context) error {
	etag, err := c.store.Load(ctx, c.identity.Kind, c.identity.Key.String(), seasonSlot, &c.state)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	c.etag = etag
	return nil
}

func (c *seasonCell) persist(ctx context.Context) error {
	etag, err := c.store.Save(ctx, c.identity.Kind, c.identity.Key.String(), seasonSlot, c.state, c.etag)
	if err != nil {
		return err
	}
	c.etag = etag
	return nil
}

// Seasons manages season creation and lookup.
type Seasons struct {
	runtime cell.Invoker
}

func NewSeasons(runtime cell.Invoker, store *storage.SlotStore) *Seasons {
	runtime.Register(cell.KindSpec{
		Kind: seasonKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &seasonCell{identity: id, store: store}, nil
		},
	})
	return &Seasons{runtime: runtime}
}

func seasonIdentity(seasonID uuid.UUID) cell.Identity {
	return cell.New(seasonKind, cell.UUIDKey(seasonID))
}

// Season is the read view callers get back from the cell.
type Season struct {
	ID                uuid.UUID
	Name              string
	Hardcore          bool
	Void              bool
	SoloSelfFound     bool
	PermanentFallback *uuid.UUID
}

// Create declares a new season with the given ruleset.
func (s *Seasons) Create(ctx context.Context, seasonID uuid.UUID, name string, hardcore, void, soloSelfFound bool, permanentFallback *uuid.UUID) error {
	id := seasonIdentity(seasonID)
	_, err := s.runtime.Invoke(ctx, id, "create", func(ctx context.Context, self cell.Cell) (any, error) {
		sc := self.(*seasonCell)
		sc.state = seasonState{
			Name:              name,
			Hardcore:          hardcore,
			Void:              void,
			SoloSelfFound:     soloSelfFound,
			PermanentFallback: permanentFallback,
			CreatedAt:         time.Now(),
		}
		return nil, sc.persist(ctx)
	})
	return err
}

// Get returns a season's current ruleset.
func (s *Seasons) Get(ctx context.Context, seasonID uuid.UUID) (Season, error) {
	id := seasonIdentity(seasonID)
	v, err := s.runtime.Invoke(ctx, id, "get", func(ctx context.Context, self cell.Cell) (any, error) {
		sc := self.(*seasonCell)
		if sc.state.Name == "" {
			return nil, titanerr.New(titanerr.NotFound, "game: season %s not found", seasonID)
		}
		return Season{
			ID:                seasonID,
			Name:              sc.state.Name,
			Hardcore:          sc.state.Hardcore,
			Void:              sc.state.Void,
			SoloSelfFound:     sc.state.SoloSelfFound,
			PermanentFallback: sc.state.PermanentFallback,
		}, nil
	})
	if err != nil {
		return Season{}, err
	}
	return v.(Season), nil
}
