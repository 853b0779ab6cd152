package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// BreakerConfig tunes the circuit breaker placed in front of a backend
// (usually the RetryingBackend): once ConsecutiveTrips Transient failures
// in a row have exhausted their retries, the breaker opens for OpenFor and
// every call fails fast with Transient instead of paying the retry cost
// again against a backend that is very likely still down.
type BreakerConfig struct {
	ConsecutiveTrips uint32
	OpenFor          time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveTrips <= 0 {
		c.ConsecutiveTrips = 8
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 10 * time.Second
	}
	return c
}

// BreakingBackend wraps a Backend with a sony/gobreaker circuit breaker.
type BreakingBackend struct {
	next Backend
	cb   *gobreaker.CircuitBreaker
}

func NewBreakingBackend(name string, next Backend, cfg BreakerConfig) *BreakingBackend {
	cfg = cfg.withDefaults()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "storage-" + name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveTrips
		},
		Timeout: cfg.OpenFor,
		IsSuccessful: func(err error) bool {
			// Only Transient failures count against the breaker; a logical
			// Conflict or NotFound says nothing about backend health.
			return err == nil || titanerr.KindOf(err) != titanerr.Transient
		},
	})
	return &BreakingBackend{next: next, cb: cb}
}

func (b *BreakingBackend) Read(ctx context.Context, k Key) (Record, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Read(ctx, k)
	})
	if err != nil {
		return Record{}, breakerErr(err)
	}
	return v.(Record), nil
}

func (b *BreakingBackend) Write(ctx context.Context, k Key, payload []byte, expectedEtag Etag) (Etag, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Write(ctx, k, payload, expectedEtag)
	})
	if err != nil {
		return EtagNone, breakerErr(err)
	}
	return v.(Etag), nil
}

func (b *BreakingBackend) Clear(ctx context.Context, k Key, expectedEtag Etag) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Clear(ctx, k, expectedEtag)
	})
	return breakerErr(err)
}

func breakerErr(err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return titanerr.Wrap(titanerr.Transient, err, "storage: circuit breaker open")
	}
	return err
}
