package gateway

import (
	"context"
	"encoding/json"
)

// Dispatcher resolves a client "call" message against the game's domain
// cells. Wired to the rule-validated, rate-limited command surface built
// on top of internal/game and internal/ratelimit; the transports only know
// how to reach it, never how it decides.
type Dispatcher interface {
	Dispatch(ctx context.Context, principal Principal, method string, args json.RawMessage) (any, error)
}

// ClientMessage is one inbound frame, identical across the websocket and
// gRPC transports.
type ClientMessage struct {
	Op     string          `json:"op"`
	Group  string          `json:"group,omitempty"`
	Method string          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	ReqID  string          `json:"reqId,omitempty"`
}

// ServerMessage is one outbound frame answering a ClientMessage, or an
// unsolicited push the Hub fanned out.
type ServerMessage struct {
	ReqID string          `json:"reqId,omitempty"`
	Group string          `json:"group,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the wire form of a titanerr.Error (spec.md §7: errors
// cross the gateway boundary tagged by Kind, never as raw messages).
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
