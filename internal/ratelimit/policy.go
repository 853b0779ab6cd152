// Package ratelimit implements Titan's gateway-ingress limiter (spec.md
// §4.7): a sliding-window counter per (policy, partition, rule) kept in
// internal/storage, an endpoint→policy mapping resolved through glob
// patterns, and a short-TTL client-side cache over that resolution.
package ratelimit

import (
	"context"
	"path"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const (
	policyKind = "RateLimitConfig"
	policySlot = "Primary"

	// DefaultConfigID names the one well-known instance of the policy
	// cell, per spec.md §9's "global singletons ... represent as a cell
	// with a well-known identity" note.
	DefaultConfigID = "default"
)

// Rule is one sliding-window rule: at most MaxHits within Period, then a
// Timeout before the partition is allowed again.
type Rule struct {
	MaxHits int           `json:"maxHits"`
	Period  int64         `json:"periodSeconds"`
	Timeout int64         `json:"timeoutSeconds"`
}

// Policy is a named, ordered list of rules.
type Policy struct {
	Name  string `json:"name"`
	Rules []Rule `json:"rules"`
}

// Mapping resolves an endpoint glob pattern to a policy name.
type Mapping struct {
	Pattern string `json:"pattern"`
	Policy  string `json:"policy"`
}

type policyState struct {
	Enabled       bool      `json:"enabled"`
	DefaultPolicy string    `json:"defaultPolicy"`
	Policies      []Policy  `json:"policies"`
	Mappings      []Mapping `json:"mappings"`
}

func stateFromConfig(cfg config.RateLimiting) policyState {
	s := policyState{
		Enabled:       cfg.Enabled,
		DefaultPolicy: cfg.DefaultPolicy,
	}
	for _, p := range cfg.Policies {
		rules := make([]Rule, 0, len(p.Rules))
		for _, r := range p.Rules {
			rules = append(rules, Rule{
				MaxHits: r.MaxHits,
				Period:  int64(r.Period.Seconds()),
				Timeout: int64(r.Timeout.Seconds()),
			})
		}
		s.Policies = append(s.Policies, Policy{Name: p.Name, Rules: rules})
	}
	for _, m := range cfg.Mappings {
		s.Mappings = append(s.Mappings, Mapping{Pattern: m.Pattern, Policy: m.Policy})
	}
	return s
}

// policyCell is the singleton config cell. It seeds itself from the
// process's static configuration on first activation, then accepts
// runtime updates through Update.
type policyCell struct {
	identity cell.Identity
	store    *storage.SlotStore
	etag     storage.Etag
	seed     policyState
	state    policyState
	loaded   bool
}

func (p *policyCell) Identity() cell.Identity { return p.identity }

func (p *policyCell) OnActivate(ctx context.Context) error {
	var state policyState
	etag, err := p.store.Load(ctx, policyKind, p.identity.Key.String(), policySlot, &state)
	if err != nil {
		if !titanerr.Is(err, titanerr.NotFound) {
			return err
		}
		p.state = p.seed
		return nil
	}
	p.etag = etag
	p.state = state
	p.loaded = true
	return nil
}

func (p *policyCell) persist(ctx context.Context) error {
	etag, err := p.store.Save(ctx, policyKind, p.identity.Key.String(), policySlot, p.state, p.etag)
	if err != nil {
		return err
	}
	p.etag = etag
	p.loaded = true
	return nil
}

// resolve matches endpoint against the configured mapping globs in order,
// falling back to DefaultPolicy (spec.md §4.7: "first matching configured
// glob patterns ... else a declared default policy").
func (p *policyCell) resolve(endpoint string) (Policy, error) {
	name := p.state.DefaultPolicy
	for _, m := range p.state.Mappings {
		if ok, _ := path.Match(m.Pattern, endpoint); ok {
			name = m.Policy
			break
		}
	}
	for _, pol := range p.state.Policies {
		if pol.Name == name {
			return pol, nil
		}
	}
	return Policy{}, titanerr.New(titanerr.NotFound, "ratelimit: no policy named %q", name)
}

// PolicyConfig is the handle callers use to read and update the singleton
// rate-limit configuration cell.
type PolicyConfig struct {
	runtime cell.Invoker
}

func NewPolicyConfig(runtime cell.Invoker, cfg *config.Config, store *storage.SlotStore) *PolicyConfig {
	seed := stateFromConfig(cfg.RateLimiting)
	runtime.Register(cell.KindSpec{
		Kind: policyKind,
		New: func(id cell.Identity) (cell.Cell, error) {
			return &policyCell{identity: id, store: store, seed: seed}, nil
		},
	})
	return &PolicyConfig{runtime: runtime}
}

// Resolve looks up the policy bound to endpoint via the configured glob
// mappings (or the default policy).
func (c *PolicyConfig) Resolve(ctx context.Context, endpoint string) (Policy, error) {
	id := cell.New(policyKind, cell.StringKey(DefaultConfigID))
	v, err := c.runtime.Invoke(ctx, id, "resolve", func(ctx context.Context, self cell.Cell) (any, error) {
		return self.(*policyCell).resolve(endpoint)
	})
	if err != nil {
		return Policy{}, err
	}
	return v.(Policy), nil
}

// Enabled reports whether the limiter is active at all.
func (c *PolicyConfig) Enabled(ctx context.Context) (bool, error) {
	id := cell.New(policyKind, cell.StringKey(DefaultConfigID))
	v, err := c.runtime.Invoke(ctx, id, "enabled", func(ctx context.Context, self cell.Cell) (any, error) {
		return self.(*policyCell).state.Enabled, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Update replaces the policy set and mapping table, persisting the change
// so every node picks it up the next time it activates the cell.
func (c *PolicyConfig) Update(ctx context.Context, policies []Policy, mappings []Mapping) error {
	id := cell.New(policyKind, cell.StringKey(DefaultConfigID))
	_, err := c.runtime.Invoke(ctx, id, "update", func(ctx context.Context, self cell.Cell) (any, error) {
		pc := self.(*policyCell)
		pc.state.Policies = policies
		pc.state.Mappings = mappings
		return nil, pc.persist(ctx)
	})
	return err
}
