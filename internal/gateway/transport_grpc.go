package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// GRPCTransport is the hub's second front door, for clients that prefer a
// long-lived bidi stream over a websocket. It shares the Hub, Presence,
// and SessionLog wiring with WSTransport — only framing and auth differ.
type GRPCTransport struct {
	hub        *Hub
	presence   *Presence
	sessionLog *SessionLog
	dispatcher Dispatcher
	logger     *slog.Logger

	sendBuffer  int
	sendTimeout time.Duration
}

func NewGRPCTransport(hub *Hub, presence *Presence, sessionLog *SessionLog, dispatcher Dispatcher, logger *slog.Logger) *GRPCTransport {
	return &GRPCTransport{
		hub:         hub,
		presence:    presence,
		sessionLog:  sessionLog,
		dispatcher:  dispatcher,
		logger:      logger,
		sendBuffer:  256,
		sendTimeout: 5 * time.Second,
	}
}

// HubServiceDesc is the hand-written ServiceDesc for Titan's gateway hub,
// standing in for a protoc-generated one: one bidirectional-streaming
// method framed with passthroughCodec's opaque JSON payloads.
var HubServiceDesc = grpc.ServiceDesc{
	ServiceName: "titan.gateway.Hub",
	HandlerType: (*GRPCTransport)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       hubConnectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "titan/gateway/hub.proto",
}

func hubConnectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*GRPCTransport).handleConnect(stream)
}

func (t *GRPCTransport) handleConnect(stream grpc.ServerStream) error {
	principal, ok := principalFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "gateway: no principal on stream")
	}

	connID := uuid.NewString()
	writer := newConnWriter(context.Background(), connID, principal, t.sendBuffer)

	first, err := t.presence.Connect(stream.Context(), principal.UserID)
	if err != nil {
		t.logger.Warn("GATEWAY_PRESENCE_CONNECT_FAILED", slog.String("user", principal.UserID), slog.Any("err", err))
	}
	if first {
		if err := t.sessionLog.Open(stream.Context(), principal.UserID); err != nil {
			t.logger.Warn("GATEWAY_SESSION_LOG_OPEN_FAILED", slog.String("user", principal.UserID), slog.Any("err", err))
		}
	}

	replies := make(chan ServerMessage, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		pushCh := writer.Recv()
		replyCh := (<-chan ServerMessage)(replies)
		for pushCh != nil || replyCh != nil {
			select {
			case ev, ok := <-pushCh:
				if !ok {
					pushCh = nil
					continue
				}
				if sendErr := sendFrame(stream, ServerMessage{Group: ev.Group, Event: ev.Event, Data: ev.Data}); sendErr != nil {
					return
				}
			case msg, ok := <-replyCh:
				if !ok {
					replyCh = nil
					continue
				}
				if sendErr := sendFrame(stream, msg); sendErr != nil {
					return
				}
			}
		}
	}()

	for {
		in := &rawFrame{}
		if err := stream.RecvMsg(in); err != nil {
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(in.Payload, &msg); err != nil {
			replies <- ServerMessage{Error: &ErrorPayload{Kind: titanerr.InvalidInput.String(), Message: "gateway: malformed frame"}}
			continue
		}
		t.handleMessage(stream.Context(), writer, principal, msg, replies)
	}

	writer.Close()
	close(replies)
	<-done

	t.hub.LeaveAll(context.Background(), connID)
	last, err := t.presence.Disconnect(context.Background(), principal.UserID)
	if err != nil {
		t.logger.Warn("GATEWAY_PRESENCE_DISCONNECT_FAILED", slog.String("user", principal.UserID), slog.Any("err", err))
	}
	if last {
		if err := t.sessionLog.Close(context.Background(), principal.UserID); err != nil {
			t.logger.Warn("GATEWAY_SESSION_LOG_CLOSE_FAILED", slog.String("user", principal.UserID), slog.Any("err", err))
		}
	}
	return nil
}

func (t *GRPCTransport) handleMessage(ctx context.Context, writer *connWriter, principal Principal, msg ClientMessage, replies chan<- ServerMessage) {
	switch msg.Op {
	case "join":
		err := t.hub.Join(ctx, msg.Group, writer)
		replies <- replyFor(msg.ReqID, json.RawMessage(`{"joined":true}`), err)
	case "leave":
		err := t.hub.Leave(ctx, msg.Group, writer.ID())
		replies <- replyFor(msg.ReqID, json.RawMessage(`{"left":true}`), err)
	case "call":
		if t.dispatcher == nil {
			replies <- replyFor(msg.ReqID, nil, titanerr.New(titanerr.InvalidInput, "gateway: no dispatcher configured"))
			return
		}
		result, err := t.dispatcher.Dispatch(ctx, principal, msg.Method, msg.Args)
		if err != nil {
			replies <- replyFor(msg.ReqID, nil, err)
			return
		}
		data, err := json.Marshal(result)
		if err != nil {
			replies <- replyFor(msg.ReqID, nil, titanerr.Wrap(titanerr.Fatal, err, "gateway: encode result"))
			return
		}
		replies <- replyFor(msg.ReqID, data, nil)
	default:
		replies <- replyFor(msg.ReqID, nil, titanerr.New(titanerr.InvalidInput, "gateway: unknown op %q", msg.Op))
	}
}

func replyFor(reqID string, data json.RawMessage, err error) ServerMessage {
	out := ServerMessage{ReqID: reqID, Data: data}
	if err != nil {
		out.Error = &ErrorPayload{Kind: titanerr.KindOf(err).String(), Message: err.Error()}
	}
	return out
}

func sendFrame(stream grpc.ServerStream, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return stream.SendMsg(&rawFrame{Payload: data})
}
