package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.uber.org/fx"
	"google.golang.org/grpc"

	"github.com/titan-mmo/titan/internal/cell"
	"github.com/titan-mmo/titan/internal/config"
	"github.com/titan-mmo/titan/internal/storage"
	"github.com/titan-mmo/titan/internal/stream"
)

const sessionStoreSlot = "Primary"

func newSessionStore(cfg *config.Config, backend storage.Backend, registry *storage.Registry, logger *slog.Logger) *SessionStore {
	textCodec, _ := registry.Resolve(storage.CodecText)
	store := storage.NewSlotStore(map[string]storage.SlotSpec{
		sessionStoreSlot: {Backend: backend, Codec: textCodec},
	})
	return NewSessionStore(store, logger, cfg.Auth.Session.Lifetime, cfg.Auth.Session.Sliding, cfg.Auth.Session.MaxPerUser)
}

func newTickets(cfg *config.Config, runtime cell.Invoker) *Tickets {
	return NewTickets(runtime, cfg.Auth.Ticket.Lifetime)
}

func newSessionLog(runtime cell.Invoker, backend storage.Backend, registry *storage.Registry) *SessionLog {
	textCodec, _ := registry.Resolve(storage.CodecText)
	store := storage.NewSlotStore(map[string]storage.SlotSpec{
		sessionStoreSlot: {Backend: backend, Codec: textCodec},
	})
	return NewSessionLog(runtime, store)
}

func newProviderSetFromConfig(cfg *config.Config) *providerSet {
	providers := make([]AuthProvider, 0, len(cfg.Auth.Providers))
	for _, name := range cfg.Auth.Providers {
		if name == "dev" {
			providers = append(providers, DevProvider{})
		}
	}
	if len(providers) == 0 {
		providers = append(providers, DevProvider{})
	}
	return newProviderSet(providers...)
}

func newHub(streams *stream.Manager, logger *slog.Logger) *Hub {
	return NewHub(streams, logger, 5*time.Second)
}

// wsTransportParams leaves Dispatcher optional: game.Module provides one,
// and without it "call" messages simply fail with InvalidInput, same as
// any other unconfigured route.
type wsTransportParams struct {
	fx.In

	Tickets    *Tickets
	Hub        *Hub
	Presence   *Presence
	SessionLog *SessionLog
	Logger     *slog.Logger
	Dispatcher Dispatcher `optional:"true"`
}

func newWSTransport(p wsTransportParams) *WSTransport {
	return NewWSTransport(p.Tickets, p.Hub, p.Presence, p.SessionLog, p.Dispatcher, p.Logger)
}

func newRouter(auth *AuthHandler, ws *WSTransport) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	auth.Routes(r)
	r.Get("/ws/connect", ws.Connect)
	return r
}

// grpcTransportParams mirrors wsTransportParams: Dispatcher is optional,
// and "call" messages fail with InvalidInput when none is provided.
type grpcTransportParams struct {
	fx.In

	Hub        *Hub
	Presence   *Presence
	SessionLog *SessionLog
	Logger     *slog.Logger
	Dispatcher Dispatcher `optional:"true"`
}

func newGRPCTransport(p grpcTransportParams) *GRPCTransport {
	return NewGRPCTransport(p.Hub, p.Presence, p.SessionLog, p.Dispatcher, p.Logger)
}

func newGRPCServer(cfg *config.Config, transport *GRPCTransport, tickets *Tickets, lc fx.Lifecycle, logger *slog.Logger) *grpc.Server {
	// A panicking hub handler must not take the whole listener down with
	// it: recovery.StreamServerInterceptor turns it into codes.Internal.
	chain := grpcmiddleware.ChainStreamServer(
		recovery.StreamServerInterceptor(),
		NewGRPCAuthInterceptor(tickets),
	)
	srv := grpc.NewServer(grpc.StreamInterceptor(chain))
	srv.RegisterService(&HubServiceDesc, transport)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Gateway.GRPCAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("GATEWAY_GRPC_SERVER_FAILED", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.GracefulStop()
			return nil
		},
	})
	return srv
}

func newHTTPServer(cfg *config.Config, router *chi.Mux, lc fx.Lifecycle, logger *slog.Logger) *http.Server {
	srv := &http.Server{Addr: cfg.Gateway.HTTPAddr, Handler: router}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("GATEWAY_HTTP_SERVER_FAILED", slog.Any("err", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// Module wires the gateway's auth, hub, and transport surface: sessions,
// tickets, presence, session log, group fan-out, and both the HTTP/
// websocket and gRPC hub listeners spec.md §4.6 describes.
var Module = fx.Module("gateway",
	fx.Provide(
		newSessionStore,
		newTickets,
		NewPresence,
		newSessionLog,
		newProviderSetFromConfig,
		newHub,
		NewAuthHandler,
		newWSTransport,
		newGRPCTransport,
		newRouter,
		newHTTPServer,
		newGRPCServer,
	),
	fx.Invoke(func(*http.Server, *grpc.Server) {}),
)
