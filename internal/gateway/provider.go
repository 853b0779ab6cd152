package gateway

import (
	"context"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// AuthProvider validates a provider-issued token and resolves it to a
// principal (spec.md §4.6: "validates the token against a pluggable
// provider"). Titan registers one AuthProvider per entry in
// `auth.providers`.
type AuthProvider interface {
	Name() string
	Validate(ctx context.Context, token string) (Principal, error)
}

// DevProvider is a non-production provider that trusts the token as a
// literal user ID, for local development and tests — grounded on the
// teacher's dev-mode shortcuts elsewhere in its config loading, adapted
// here to the pluggable-provider shape §4.6 calls for.
type DevProvider struct{}

func (DevProvider) Name() string { return "dev" }

func (DevProvider) Validate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, titanerr.New(titanerr.Unauthorized, "gateway: dev provider: empty token")
	}
	return Principal{UserID: token, Roles: []string{"player"}}, nil
}

// providerSet resolves a configured provider name to its AuthProvider.
type providerSet struct {
	byName map[string]AuthProvider
}

func newProviderSet(providers ...AuthProvider) *providerSet {
	s := &providerSet{byName: make(map[string]AuthProvider, len(providers))}
	for _, p := range providers {
		s.byName[p.Name()] = p
	}
	return s
}

func (s *providerSet) resolve(name string) (AuthProvider, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, titanerr.New(titanerr.InvalidInput, "gateway: unknown auth provider %q", name)
	}
	return p, nil
}

func (s *providerSet) names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	return names
}
