package cluster

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	capi "github.com/hashicorp/consul/api"
	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/titanerr"
	"go.uber.org/fx"
)

// Self builds this process's Node identity: a stable service id plus a
// random per-process suffix, so restarting a node is indistinguishable
// from replacing it (the directory doesn't need to special-case restart).
func Self(cfg *config.Config) Node {
	return Node{
		ID:   cfg.Cluster.ServiceID + "-" + uuid.NewString(),
		Addr: cfg.Gateway.GRPCAddr,
	}
}

func newConsulClient(cfg *config.Config) (*capi.Client, error) {
	ccfg := capi.DefaultConfig()
	if cfg.Cluster.MembershipStore != "" {
		ccfg.Address = cfg.Cluster.MembershipStore
	}
	client, err := capi.NewClient(ccfg)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Fatal, err, "cluster: consul client")
	}
	return client, nil
}

// newRouter picks the Router's mode from Cluster.MembershipStore: a
// configured consul address means a real multi-node deployment, so
// invocations go through the Directory; left blank (the single-silo/dev
// default) means every identity is local and no consul round trip is ever
// needed to invoke a cell.
func newRouter(runtime *cell.Runtime, directory *Directory, cfg *config.Config, logger *slog.Logger) *Router {
	if cfg.Cluster.MembershipStore == "" {
		return NewLocalRouter(runtime, logger)
	}
	return NewRouter(runtime, directory, nil, logger)
}

// Module wires the cluster directory: consul client, heartbeat membership,
// fencing-token leases, and the directory that ties them to a consistent
// hash ring, starting/stopping both background loops with fx's lifecycle.
// It also provides the Router every domain package's cells actually invoke
// through, so cell.Runtime.Invoke is never called directly outside tests.
var Module = fx.Module("cluster",
	fx.Provide(
		Self,
		newConsulClient,
		func(client *capi.Client, self Node, logger *slog.Logger) *Membership {
			return NewMembership(client, "", self, logger)
		},
		func(client *capi.Client) *Fencing {
			return NewFencing(client, "")
		},
		NewDirectory,
		fx.Annotate(newRouter, fx.As(new(cell.Invoker))),
	),
	fx.Invoke(func(lc fx.Lifecycle, m *Membership, d *Directory, cfg *config.Config) {
		// Single-silo/dev deployments (no membership store configured) run
		// every identity local via Router's alwaysLocal mode and never need
		// these background loops — starting them would just fail to dial a
		// consul that was never meant to exist.
		if cfg.Cluster.MembershipStore == "" {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := m.Start(ctx); err != nil {
					return err
				}
				return d.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				d.Stop()
				m.Stop()
				return nil
			},
		})
	}),
)
