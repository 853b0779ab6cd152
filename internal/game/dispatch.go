package game

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/titan-mmo/titan/internal/gateway"
	"github.com/titan-mmo/titan/internal/ratelimit"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// Dispatcher implements gateway.Dispatcher against the game domain cells:
// AccountHub, CharacterHub, InventoryHub, TradeHub, SeasonHub, and
// BaseTypeHub (spec.md §6's stream hub surface table). Every method goes
// through the rate-limit Guard before reaching a cell, so a client can't
// bypass the limiter by calling directly.
type Dispatcher struct {
	accounts    *Accounts
	seasons     *Seasons
	characters  *Characters
	inventories *Inventories
	trades      *Trades
	registry    *Registry
	guard       *ratelimit.Guard
}

func NewDispatcher(accounts *Accounts, seasons *Seasons, characters *Characters, inventories *Inventories, trades *Trades, registry *Registry, guard *ratelimit.Guard) *Dispatcher {
	return &Dispatcher{
		accounts:    accounts,
		seasons:     seasons,
		characters:  characters,
		inventories: inventories,
		trades:      trades,
		registry:    registry,
		guard:       guard,
	}
}

// Dispatch resolves method against the fixed table below. method is
// "Hub.Op" (e.g. "CharacterHub.Die"), matching spec.md §6's naming.
func (d *Dispatcher) Dispatch(ctx context.Context, principal gateway.Principal, method string, args json.RawMessage) (any, error) {
	if err := d.guard.Check(ctx, method, principal.UserID); err != nil {
		return nil, err
	}

	switch method {
	case "AccountHub.EnsureCreated":
		var req struct {
			DisplayName string `json:"displayName"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.accounts.EnsureCreated(ctx, principal.UserID, req.DisplayName)

	case "SeasonHub.Create":
		var req struct {
			SeasonID          uuid.UUID  `json:"seasonId"`
			Name              string     `json:"name"`
			Hardcore          bool       `json:"hardcore"`
			Void              bool       `json:"void"`
			SoloSelfFound     bool       `json:"soloSelfFound"`
			PermanentFallback *uuid.UUID `json:"permanentFallback,omitempty"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		if err := d.seasons.Create(ctx, req.SeasonID, req.Name, req.Hardcore, req.Void, req.SoloSelfFound, req.PermanentFallback); err != nil {
			return nil, err
		}
		return d.seasons.Get(ctx, req.SeasonID)

	case "SeasonHub.Get":
		var req struct {
			SeasonID uuid.UUID `json:"seasonId"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.seasons.Get(ctx, req.SeasonID)

	case "CharacterHub.Create":
		var req struct {
			SeasonID uuid.UUID `json:"seasonId"`
			Name     string    `json:"name"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		character, err := d.characters.Create(ctx, req.SeasonID, req.Name)
		if err != nil {
			return nil, err
		}
		if err := d.accounts.AddCharacter(ctx, principal.UserID, characterKeyOf(req.SeasonID, req.Name)); err != nil {
			return nil, err
		}
		return character, nil

	case "CharacterHub.Get":
		var req struct {
			SeasonID uuid.UUID `json:"seasonId"`
			Name     string    `json:"name"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.characters.Get(ctx, req.SeasonID, req.Name)

	case "CharacterHub.Die":
		var req struct {
			SeasonID uuid.UUID `json:"seasonId"`
			Name     string    `json:"name"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.characters.Die(ctx, req.SeasonID, req.Name)

	case "InventoryHub.Grant":
		var req struct {
			SeasonID  uuid.UUID `json:"seasonId"`
			Character string    `json:"character"`
			Item      Item      `json:"item"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return nil, d.inventories.Grant(ctx, req.SeasonID, req.Character, req.Item)

	case "InventoryHub.Item":
		var req struct {
			SeasonID  uuid.UUID `json:"seasonId"`
			Character string    `json:"character"`
			ItemID    uuid.UUID `json:"itemId"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.inventories.Item(ctx, req.SeasonID, req.Character, req.ItemID)

	case "TradeHub.Start":
		var req struct {
			SeasonID uuid.UUID `json:"seasonId"`
			CharA    string    `json:"charA"`
			CharB    string    `json:"charB"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.trades.Start(ctx, req.SeasonID, req.CharA, req.CharB)

	case "TradeHub.AddItem":
		var req struct {
			TradeID   uuid.UUID `json:"tradeId"`
			Character string    `json:"character"`
			ItemID    uuid.UUID `json:"itemId"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return nil, d.trades.AddItem(ctx, req.TradeID, req.Character, req.ItemID)

	case "TradeHub.Accept":
		var req struct {
			TradeID   uuid.UUID `json:"tradeId"`
			Character string    `json:"character"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return nil, d.trades.Accept(ctx, req.TradeID, req.Character)

	case "BaseTypeHub.Get":
		var req struct {
			Name string `json:"name"`
		}
		if err := unmarshal(args, &req); err != nil {
			return nil, err
		}
		return d.registry.Get(ctx, req.Name)

	default:
		return nil, titanerr.New(titanerr.InvalidInput, "game: unknown method %q", method)
	}
}

func unmarshal(args json.RawMessage, dst any) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return titanerr.Wrap(titanerr.InvalidInput, err, "game: malformed request arguments")
	}
	return nil
}

func characterKeyOf(seasonID uuid.UUID, name string) string {
	return seasonID.String() + ":" + name
}
