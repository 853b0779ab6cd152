package cell

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

// Module wires a single node-local Runtime into the DI graph, stopping it
// gracefully on fx shutdown so in-flight invocations and OnDeactivate hooks
// get a chance to run.
var Module = fx.Module("cell",
	fx.Provide(func(logger *slog.Logger, lc fx.Lifecycle) *Runtime {
		rt := NewRuntime(logger)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				rt.Shutdown(ctx)
				return nil
			},
		})
		return rt
	}),
)
