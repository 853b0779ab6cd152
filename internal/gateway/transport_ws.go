package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// WSTransport upgrades an authenticated HTTP request into a websocket
// session, wired the same way the teacher's LPHandler wires a long-polling
// request to service.Deliverer: resolve identity, subscribe, pump events
// until the client or context goes away.
type WSTransport struct {
	tickets    *Tickets
	hub        *Hub
	presence   *Presence
	sessionLog *SessionLog
	dispatcher Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	sendBuffer  int
	sendTimeout time.Duration
}

func NewWSTransport(tickets *Tickets, hub *Hub, presence *Presence, sessionLog *SessionLog, dispatcher Dispatcher, logger *slog.Logger) *WSTransport {
	return &WSTransport{
		tickets:    tickets,
		hub:        hub,
		presence:   presence,
		sessionLog: sessionLog,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		sendBuffer: 256,
		sendTimeout: 5 * time.Second,
	}
}

// Connect validates the one-shot ?ticket= query parameter, upgrades the
// connection, and pumps frames until it closes.
func (t *WSTransport) Connect(w http.ResponseWriter, r *http.Request) {
	ticketID := r.URL.Query().Get("ticket")
	if ticketID == "" {
		http.Error(w, "missing ticket", http.StatusUnauthorized)
		return
	}
	principal, err := t.tickets.Consume(r.Context(), ticketID)
	if err != nil {
		status := http.StatusUnauthorized
		if titanerr.Is(err, titanerr.NotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("GATEWAY_WS_UPGRADE_FAILED", slog.Any("err", err))
		return
	}

	connID := uuid.NewString()
	writer := newConnWriter(context.Background(), connID, principal, t.sendBuffer)

	first, err := t.presence.Connect(r.Context(), principal.UserID)
	if err != nil {
		t.logger.Warn("GATEWAY_PRESENCE_CONNECT_FAILED", slog.String("user", principal.UserID), slog.Any("err", err))
	}
	if first {
		if err := t.sessionLog.Open(r.Context(), principal.UserID); err != nil {
			t.logger.Warn("GATEWAY_SESSION_LOG_OPEN_FAILED", slog.String("user", principal.UserID), slog.Any("err", err))
		}
	}

	go t.writePump(conn, writer)
	t.readPump(conn, writer)

	writer.Close()
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
}

func (t *WSTransport) writePump(conn *websocket.Conn, writer *connWriter) {
	for ev := range writer.Recv() {
		if err := conn.WriteJSON(ServerMessage{Group: ev.Group, Event: ev.Event, Data: ev.Data}); err != nil {
			return
		}
	}
}

func (t *WSTransport) readPump(conn *websocket.Conn, writer *connWriter) {
	defer conn.Close()
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("GATEWAY_WS_READ_FAILED", slog.Any("err", err))
			}
			return
		}
		t.handleMessage(conn, writer, msg)
	}
}

func (t *WSTransport) handleMessage(conn *websocket.Conn, writer *connWriter, msg ClientMessage) {
	ctx := context.Background()
	switch msg.Op {
	case "join":
		if err := t.hub.Join(ctx, msg.Group, writer); err != nil {
			t.reply(conn, msg.ReqID, nil, err)
			return
		}
		t.reply(conn, msg.ReqID, json.RawMessage(`{"joined":true}`), nil)
	case "leave":
		if err := t.hub.Leave(ctx, msg.Group, writer.ID()); err != nil {
			t.reply(conn, msg.ReqID, nil, err)
			return
		}
		t.reply(conn, msg.ReqID, json.RawMessage(`{"left":true}`), nil)
	case "call":
		if t.dispatcher == nil {
			t.reply(conn, msg.ReqID, nil, titanerr.New(titanerr.InvalidInput, "gateway: no dispatcher configured"))
			return
		}
		result, err := t.dispatcher.Dispatch(ctx, writer.Principal(), msg.Method, msg.Args)
		if err != nil {
			t.reply(conn, msg.ReqID, nil, err)
			return
		}
		data, err := json.Marshal(result)
		if err != nil {
			t.reply(conn, msg.ReqID, nil, titanerr.Wrap(titanerr.Fatal, err, "gateway: encode result"))
			return
		}
		t.reply(conn, msg.ReqID, data, nil)
	default:
		t.reply(conn, msg.ReqID, nil, titanerr.New(titanerr.InvalidInput, "gateway: unknown op %q", msg.Op))
	}
}

func (t *WSTransport) reply(conn *websocket.Conn, reqID string, data json.RawMessage, err error) {
	out := ServerMessage{ReqID: reqID, Data: data}
	if err != nil {
		var te *titanerr.Error
		if errors.As(err, &te) {
			out.Error = &ErrorPayload{Kind: te.Kind.String(), Message: te.Message}
		} else {
			out.Error = &ErrorPayload{Kind: titanerr.Unknown.String(), Message: err.Error()}
		}
	}
	if werr := conn.WriteJSON(out); werr != nil {
		t.logger.Debug("GATEWAY_WS_WRITE_FAILED", slog.Any("err", werr))
	}
}
