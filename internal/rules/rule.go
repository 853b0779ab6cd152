// Package rules implements the composable pre-action validator spec.md
// §4.8 calls for: "a rule is validate(context) -> ok | violation(reason)."
// A cell composes an ordered []Rule for an operation (e.g. Trade composes
// SameSeason then SoloSelfFound); each rule is pure with respect to the
// context it receives — any data a rule needs is preloaded by the caller
// into that context, the same shape the teacher's enricherMiddleware
// chains a fixed decorator around a single call rather than branching on
// type.
package rules

import (
	"context"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// Rule validates one precondition of an operation against ctx, returning
// a titanerr.InvalidInput (or more specific Kind) error naming the
// violation, or nil if the precondition holds.
type Rule[T any] func(ctx context.Context, subject T) error

// Chain runs rules against subject in order, stopping at (and returning)
// the first violation. A cell composing SameSeason then SoloSelfFound
// calls Chain(ctx, trade, SameSeason, SoloSelfFound).
func Chain[T any](ctx context.Context, subject T, rules ...Rule[T]) error {
	for _, rule := range rules {
		if err := rule(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// Violation builds the InvalidInput error a Rule returns when its
// precondition fails; kept separate from titanerr.New only so a rule's
// failure reads as "Violation(...)" at the call site rather than a bare
// titanerr.New with an easy-to-miss Kind argument.
func Violation(reason string, args ...any) error {
	return titanerr.New(titanerr.InvalidInput, reason, args...)
}
