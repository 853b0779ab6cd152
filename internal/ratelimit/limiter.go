package ratelimit

import (
	"context"
	"time"

	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/titanerr"
)

const (
	windowKind = "RateLimitWindow"
	windowSlot = "Primary"

	// maxCASRetries bounds the optimistic-retry loop against concurrent
	// writers hammering the same (policy, partition) key. Hitting it means
	// genuine contention, not a bug, so it surfaces as Transient rather
	// than silently blocking forever.
	maxCASRetries = 8
)

// ruleWindow is one rule's sliding-window state: timestamps (unix seconds)
// of hits still inside the rule's period, plus an optional timeout that
// short-circuits every check until it elapses.
type ruleWindow struct {
	Hits         []int64 `json:"hits"`
	TimeoutUntil int64   `json:"timeoutUntil"`
}

// windowState is the persisted record for one (policy, partition) pair:
// one ruleWindow per rule in the policy, same order.
type windowState struct {
	Rules []ruleWindow `json:"rules"`
}

// Limiter enforces sliding-window rate-limit rules directly against
// internal/storage's CAS contract. spec.md §4.7 frames rate-limit counters
// as "a shared fast KV ... atomic compound operations (scripted)" rather
// than cell-mailbox state, so this talks to storage.Backend's Read/Write
// etag dance directly instead of going through a cell identity — every
// check is a plain optimistic read-modify-write retry loop, the same shape
// as a Redis Lua script without the scripting.
type Limiter struct {
	backend storage.Backend
	codec   storage.Codec
}

func NewLimiter(backend storage.Backend, codec storage.Codec) *Limiter {
	return &Limiter{backend: backend, codec: codec}
}

func windowKey(policy, partition string) string {
	return policy + "/" + partition
}

// Allow checks partition against every rule in order, short-circuiting on
// the first rule that rejects it. Per spec.md §8 scenario 5: a partition
// already inside a rule's timeout window is rejected without touching its
// hit history or consuming a slot; a partition that would cross MaxHits on
// this call is rejected and placed into timeout without counting the hit
// that tripped it; otherwise the hit is recorded and the call is allowed.
func (l *Limiter) Allow(ctx context.Context, policy Policy, partition string) error {
	if len(policy.Rules) == 0 {
		return nil
	}

	key := storage.Key{CellKind: windowKind, Key: windowKey(policy.Name, partition), Slot: windowSlot}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		rec, readErr := l.backend.Read(ctx, key)
		etag := storage.EtagNone
		var state windowState
		if readErr == nil {
			etag = rec.Etag
			if err := l.codec.Unmarshal(rec.Payload, &state); err != nil {
				return err
			}
		} else if !titanerr.Is(readErr, titanerr.NotFound) {
			return readErr
		}
		if len(state.Rules) != len(policy.Rules) {
			state.Rules = make([]ruleWindow, len(policy.Rules))
		}

		now := time.Now().Unix()
		blocked, retryAfter := applyRules(&state, policy.Rules, now)

		payload, err := l.codec.Marshal(state)
		if err != nil {
			return err
		}
		_, writeErr := l.backend.Write(ctx, key, payload, etag)
		if writeErr != nil {
			if titanerr.Is(writeErr, titanerr.Conflict) {
				continue // another caller raced us; retry against the fresh etag
			}
			return writeErr
		}

		if blocked {
			return titanerr.RateLimitedAfter(time.Duration(retryAfter)*time.Second, "ratelimit: %s/%s is rate limited", policy.Name, partition)
		}
		return nil
	}

	return titanerr.New(titanerr.Transient, "ratelimit: gave up after %d CAS retries for %s/%s", maxCASRetries, policy.Name, partition)
}

// applyRules mutates state in place and reports whether partition is
// blocked and, if so, for how many more seconds.
func applyRules(state *windowState, rules []Rule, now int64) (blocked bool, retryAfter int64) {
	for i, rule := range rules {
		rw := &state.Rules[i]

		if rw.TimeoutUntil > now {
			return true, rw.TimeoutUntil - now
		}

		rw.Hits = pruneBefore(rw.Hits, now-rule.Period)

		if len(rw.Hits) >= rule.MaxHits {
			rw.TimeoutUntil = now + rule.Timeout
			return true, rule.Timeout
		}

		rw.Hits = append(rw.Hits, now)
	}
	return false, 0
}

func pruneBefore(hits []int64, cutoff int64) []int64 {
	kept := hits[:0]
	for _, h := range hits {
		if h > cutoff {
			kept = append(kept, h)
		}
	}
	return kept
}

// Reset clears a partition's window unconditionally, for admin/test use
// (e.g. unsticking an operator account locked out by a misconfigured
// policy). Missing keys are treated as already-reset.
func (l *Limiter) Reset(ctx context.Context, policy, partition string) error {
	key := storage.Key{CellKind: windowKind, Key: windowKey(policy, partition), Slot: windowSlot}
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		rec, err := l.backend.Read(ctx, key)
		if err != nil {
			if titanerr.Is(err, titanerr.NotFound) {
				return nil
			}
			return err
		}
		if err := l.backend.Clear(ctx, key, rec.Etag); err != nil {
			if titanerr.Is(err, titanerr.Conflict) {
				continue
			}
			return err
		}
		return nil
	}
	return titanerr.New(titanerr.Transient, "ratelimit: gave up resetting %s/%s", policy, partition)
}
