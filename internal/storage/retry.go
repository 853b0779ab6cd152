package storage

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// RetryConfig configures the exponential backoff + jitter retry wrapper
// (spec.md §4.1).
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Jitter         float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.2
	}
	return c
}

// RetryingBackend wraps a Backend, retrying calls that fail with
// titanerr.Transient using exponential backoff with jitter, up to
// MaxRetries. Any other error kind propagates unchanged on the first
// attempt — in particular Conflict, which always means a logical etag
// violation and must never be retried transparently (spec.md §4.1).
type RetryingBackend struct {
	next Backend
	cfg  RetryConfig
}

func NewRetryingBackend(next Backend, cfg RetryConfig) *RetryingBackend {
	return &RetryingBackend{next: next, cfg: cfg.withDefaults()}
}

func (b *RetryingBackend) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.InitialBackoff
	eb.RandomizationFactor = b.cfg.Jitter
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(b.cfg.MaxRetries)), ctx)
}

func (b *RetryingBackend) Read(ctx context.Context, k Key) (rec Record, err error) {
	err = backoff.Retry(func() error {
		var e error
		rec, e = b.next.Read(ctx, k)
		if e != nil && titanerr.KindOf(e) != titanerr.Transient {
			return backoff.Permanent(e)
		}
		return e
	}, b.policy(ctx))
	return rec, unwrapPermanent(err)
}

func (b *RetryingBackend) Write(ctx context.Context, k Key, payload []byte, expectedEtag Etag) (etag Etag, err error) {
	err = backoff.Retry(func() error {
		var e error
		etag, e = b.next.Write(ctx, k, payload, expectedEtag)
		if e != nil && titanerr.KindOf(e) != titanerr.Transient {
			return backoff.Permanent(e)
		}
		return e
	}, b.policy(ctx))
	return etag, unwrapPermanent(err)
}

func (b *RetryingBackend) Clear(ctx context.Context, k Key, expectedEtag Etag) error {
	err := backoff.Retry(func() error {
		e := b.next.Clear(ctx, k, expectedEtag)
		if e != nil && titanerr.KindOf(e) != titanerr.Transient {
			return backoff.Permanent(e)
		}
		return e
	}, b.policy(ctx))
	return unwrapPermanent(err)
}

// unwrapPermanent turns backoff's *PermanentError wrapper back into the
// original tagged error, and turns "retries exhausted while still
// Transient" into an explicit Transient error for the caller.
func unwrapPermanent(err error) error {
	if err == nil {
		return nil
	}
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Err
	}
	if titanerr.KindOf(err) == titanerr.Transient {
		return err
	}
	return titanerr.Wrap(titanerr.Transient, err, "storage: retries exhausted")
}
