package gateway

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type grpcContextKey string

const principalContextKey grpcContextKey = "titan_principal"

// NewGRPCAuthInterceptor consumes the one-shot connection ticket carried
// in the "ticket" metadata key and injects the resolved Principal into the
// stream's context — grounded on the teacher's stream_auth interceptor,
// generalized from a pre-authenticated contact lookup to ticket
// consumption against the Tickets cell.
func NewGRPCAuthInterceptor(tickets *Tickets) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "gateway: missing metadata")
		}
		values := md.Get("ticket")
		if len(values) == 0 || values[0] == "" {
			return status.Error(codes.Unauthenticated, "gateway: missing ticket")
		}
		principal, err := tickets.Consume(ss.Context(), values[0])
		if err != nil {
			return status.Errorf(codes.Unauthenticated, "gateway: %v", err)
		}

		wrapped := &principalStream{
			ServerStream: ss,
			ctx:          context.WithValue(ss.Context(), principalContextKey, principal),
		}
		return handler(srv, wrapped)
	}
}

// principalStream overrides Context the same way the teacher's
// wrappedStream does, so downstream handlers see the injected principal.
type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *principalStream) Context() context.Context { return w.ctx }

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}
