package cell

import "context"

type callChainKey struct{}

// callChain tracks which identities are already being invoked somewhere up
// the current logical call stack, so the runtime can detect a nested call
// back into the same identity (spec.md §4.2's reentrant-call guard) without
// needing a distributed trace.
type callChain []Identity

func (c callChain) contains(id Identity) bool {
	for _, existing := range c {
		if existing == id {
			return true
		}
	}
	return false
}

func withCallChain(ctx context.Context, id Identity) context.Context {
	chain, _ := ctx.Value(callChainKey{}).(callChain)
	return context.WithValue(ctx, callChainKey{}, append(append(callChain{}, chain...), id))
}

func callChainFrom(ctx context.Context) callChain {
	chain, _ := ctx.Value(callChainKey{}).(callChain)
	return chain
}
