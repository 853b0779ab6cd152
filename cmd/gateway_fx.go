package cmd

import (
	"go.uber.org/fx"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/cluster"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/game"
	"github.com/titan-mmo/titan/internal/gateway"
	"github.com/titan-mmo/titan/internal/logging"
	"github.com/titan-mmo/titan/internal/ratelimit"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/stream"
	"github.com/titan-mmo/titan/internal/txn"
)

// NewGatewayApp assembles a node that, in addition to everything a silo
// node hosts, also terminates client connections: HTTP login, tickets,
// and the websocket/gRPC hub transports (spec.md §4.6). A real deployment
// runs many silo nodes behind a handful of gateway nodes; this single
// binary can run as either, which is why both share the same module set
// plus gateway.Module.
func NewGatewayApp(cfg *config.Config) *fx.App {
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
		gateway.Module,
	)
}
