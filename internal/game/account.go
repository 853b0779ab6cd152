package game

import (
	"context"
	"time"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const (
	accountKind = "Account"
	accountSlot = "Primary"
)

type accountState struct {
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	Characters  []string  `json:"characters"` // "seasonID:name" keys, for listing
}

// accountCell is the player's root identity — deliberately thin, per
// spec.md §1's "out of scope: the concrete domain logic of accounts ...
// beyond what is needed to illustrate the runtime contracts."
type accountCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	state    accountState
}

func (c *accountCell) Identity() cell.Identity { return c.identity }

func (c *accountCell) OnActivate(ctx context.Context) error {
	etag, err := c.store.Load(ctx, c.identity.Kind, c.identity.Key.String(), accountSlot, &c.state)
	if err != nil {
		if titanerr.Is(err, titanerr.NotFound) {
			return nil
		}
		return err
	}
	c.etag = etag
	return nil
}

func (c *accountCell) persist(ctx context.Context) error {
	etag, err := c.store.Save(ctx, c.identity.Kind, c.identity.Key.String(), accountSlot, c.state, c.etag)
	if err != nil {
		return err
	}
	c.etag = etag
	return nil
}

// Accounts is the handle callers use to create and query player accounts,
// one per authenticated userID (spec.md §4.6's Principal.UserID).
type Accounts struct {
	runtime cell.Invoker
}

func NewAccounts(runtime cell.Invoker, store *storage.SlotStore) *Accounts {
	runtime.Register(cell.KindSpec{
		Kind: accountKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &accountCell{identity: id, store: store}, nil
		},
	})
	return &Accounts{runtime: runtime}
}

func accountIdentity(userID string) cell.Identity {
	return cell.New(accountKind, cell.StringKey(userID))
}

// Account is the read view of one player's account.
type Account struct {
	UserID      string
	DisplayName string
	Characters  []string
}

// EnsureCreated idempotently creates the account for userID if it doesn't
// already have a display name set.
func (a *Accounts) EnsureCreated(ctx context.Context, userID, displayName string) (Account, error) {
	id := accountIdentity(userID)
	v, err := a.runtime.Invoke(ctx, id, "ensureCreated", func(ctx context.Context, self cell.Cell) (any, error) {
		ac := self.(*accountCell)
		if ac.state.DisplayName == "" {
			ac.state.DisplayName = displayName
			ac.state.CreatedAt = time.Now()
			if err := ac.persist(ctx); err != nil {
				return nil, err
			}
		}
		return Account{UserID: userID, DisplayName: ac.state.DisplayName, Characters: ac.state.Characters}, nil
	})
	if err != nil {
		return Account{}, err
	}
	return v.(Account), nil
}

// AddCharacter records characterKey ("seasonID:name") against the
// account's roster.
func (a *Accounts) AddCharacter(ctx context.Context, userID, characterKey string) error {
	id := accountIdentity(userID)
	_, err := a.runtime.Invoke(ctx, id, "addCharacter", func(ctx context.Context, self cell.Cell) (any, error) {
		ac := self.(*accountCell)
		for _, k := range ac.state.Characters {
			if k == characterKey {
				return nil, nil
			}
		}
		ac.state.Characters = append(ac.state.Characters, characterKey)
		return nil, ac.persist(ctx)
	})
	return err
}
