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
	characterKind = "Character"
	characterSlot = "Primary"
)

// HistoryEntry is one append-only event on a character's timeline (spec.md
// §8 scenario 4: "source character's history contains Died then Migrated").
type HistoryEntry struct {
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

type characterState struct {
	SeasonID      uuid.UUID      `json:"seasonId"`
	Name          string         `json:"name"`
	Hardcore      bool           `json:"hardcore"`
	SoloSelfFound bool           `json:"soloSelfFound"`
	Dead          bool           `json:"dead"`
	History       []HistoryEntry `json:"history"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// characterCell's identity compounds (seasonID, name) — the literal
// example spec.md §3 gives for the compound key shape ("used to namespace
// a character by season").
type characterCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	state    characterState
}

func (c *characterCell) Identity() cell.Identity { return c.identity }

func (c *characterCell) OnActivate(ctx context.Context) error {
	etag, err := c.store.Load(ctx, c.identity.Kind, c.identity.Key.String(), characterSlot, &c.state)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	c.etag = etag
	return nil
}

func (c *characterCell) persist(ctx context.Context) error {
	etag, err := c.store.Save(ctx, c.identity.Kind, c.identity.Key.String(), characterSlot, c.state, c.etag)
	if err != nil {
		return err
	}
	c.etag = etag
	return nil
}

func characterIdentity(seasonID uuid.UUID, name string) cell.Identity {
	return cell.New(characterKind, cell.CompoundKey(seasonID, name))
}

// Character is the read view of one character.
type Character struct {
	SeasonID      uuid.UUID
	Name          string
	Hardcore      bool
	SoloSelfFound bool
	Dead          bool
	History       []HistoryEntry
}

// Characters manages character creation, lookup, and the hardcore-death
// migration path.
type Characters struct {
	runtime cell.Invoker
	seasons *Seasons
}

func NewCharacters(runtime cell.Invoker, seasons *Seasons, store *storage.SlotStore) *Characters {
	runtime.Register(cell.KindSpec{
		Kind: characterKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &characterCell{identity: id, store: store}, nil
		},
	})
	return &Characters{runtime: runtime, seasons: seasons}
}

// Create brings a new character into existence in seasonID, inheriting
// that season's Hardcore flag.
func (c *Characters) Create(ctx context.Context, seasonID uuid.UUID, name string) (Character, error) {
	season, err := c.seasons.Get(ctx, seasonID)
	if err != nil {
		return Character{}, err
	}

	id := characterIdentity(seasonID, name)
	v, err := c.runtime.Invoke(ctx, id, "create", func(ctx context.Context, self cell.Cell) (any, error) {
		cc := self.(*characterCell)
		if cc.state.Name != "" {
			return nil, titanerr.New(titanerr.Conflict, "game: character %s/%s already exists", seasonID, name)
		}
		cc.state = characterState{SeasonID: seasonID, Name: name, Hardcore: season.Hardcore, SoloSelfFound: season.SoloSelfFound, CreatedAt: time.Now()}
		return toCharacter(cc.state), cc.persist(ctx)
	})
	if err != nil {
		return Character{}, err
	}
	return v.(Character), nil
}

// Get returns a character's current state.
func (c *Characters) Get(ctx context.Context, seasonID uuid.UUID, name string) (Character, error) {
	id := characterIdentity(seasonID, name)
	v, err := c.runtime.Invoke(ctx, id, "get", func(ctx context.Context, self cell.Cell) (any, error) {
		cc := self.(*characterCell)
		if cc.state.Name == "" {
			return nil, titanerr.New(titanerr.NotFound, "game: character %s/%s not found", seasonID, name)
		}
		return toCharacter(cc.state), nil
	})
	if err != nil {
		return Character{}, err
	}
	return v.(Character), nil
}

func toCharacter(s characterState) Character {
	return Character{SeasonID: s.SeasonID, Name: s.Name, Hardcore: s.Hardcore, SoloSelfFound: s.SoloSelfFound, Dead: s.Dead, History: s.History}
}

// Die kills a character (spec.md §8 scenario 4). A Hardcore character is
// marked dead and, when its season is not Void and names a
// PermanentFallback, migrated: a character of
// the same name is created (or confirmed already present) in the season's
// permanent fallback with Hardcore cleared, and the source character's
// history gains Died then Migrated. A non-Hardcore character is simply
// marked dead with a Died entry.
func (c *Characters) Die(ctx context.Context, seasonID uuid.UUID, name string) (Character, error) {
	season, err := c.seasons.Get(ctx, seasonID)
	if err != nil {
		return Character{}, err
	}

	id := characterIdentity(seasonID, name)
	v, err := c.runtime.Invoke(ctx, id, "die", func(ctx context.Context, self cell.Cell) (any, error) {
		cc := self.(*characterCell)
		if cc.state.Name == "" {
			return nil, titanerr.New(titanerr.NotFound, "game: character %s/%s not found", seasonID, name)
		}
		if cc.state.Dead {
			return nil, titanerr.New(titanerr.Conflict, "game: character %s/%s is already dead", seasonID, name)
		}
		cc.state.Dead = true
		cc.state.History = append(cc.state.History, HistoryEntry{Kind: "Died", At: time.Now()})

		if cc.state.Hardcore && !season.Void && season.PermanentFallback != nil {
			if err := c.migrate(ctx, *season.PermanentFallback, name); err != nil {
				return nil, err
			}
			cc.state.History = append(cc.state.History, HistoryEntry{Kind: "Migrated", At: time.Now()})
		}

		return toCharacter(cc.state), cc.persist(ctx)
	})
	if err != nil {
		return Character{}, err
	}
	return v.(Character), nil
}

// migrate creates the fallback-season character if it doesn't already
// exist, with Hardcore cleared regardless of the fallback season's own
// ruleset — the point of the fallback is to let a dead hardcore character
// keep playing without the restriction.
func (c *Characters) migrate(ctx context.Context, fallbackSeasonID uuid.UUID, name string) error {
	id := characterIdentity(fallbackSeasonID, name)
	_, err := c.runtime.Invoke(ctx, id, "migrateInto", func(ctx context.Context, self cell.Cell) (any, error) {
		cc := self.(*characterCell)
		if cc.state.Name != "" {
			return nil, nil // already migrated once; idempotent
		}
		cc.state = characterState{SeasonID: fallbackSeasonID, Name: name, Hardcore: false, CreatedAt: time.Now()}
		return nil, cc.persist(ctx)
	})
	return err
}
