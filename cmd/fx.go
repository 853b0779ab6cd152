package cmd

import (
	"go.uber.org/fx"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/cluster"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/game"
	"github.com/titan-mmo/titan/internal/logging"
	"github.com/titan-mmo/titan/internal/ratelimit"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/stream"
	"github.com/titan-mmo/titan/internal/txn"
)

// NewSiloApp assembles a node that hosts cells but not the client-facing
// gateway listeners: the cross-cutting runtime (storage, cell activation,
// cluster membership/fencing, transactions, streams) plus the rate
// limiter and the illustrative game domain, addressable by any gateway
// node through internal/cluster's directory.
func NewSiloApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(func() *config.Config { return cfg }),
		logging.Module,
		storage.Module,
		cell.Module,
		cluster.Module,
		txn.Module,
		stream.Module,
		ratelimit.Module,
		game.Module,
	)
}
