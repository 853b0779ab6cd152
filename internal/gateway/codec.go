package gateway

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

const grpcCodecName = "titan-json"

// rawFrame is the only message type the hub's gRPC service ever marshals:
// an opaque JSON payload the application layer (ClientMessage/ServerMessage)
// already encoded. This sidesteps needing protoc-generated stubs, which
// this environment has no codegen path for.
type rawFrame struct {
	Payload []byte
}

// passthroughCodec hands rawFrame's bytes straight to the wire, the same
// way a grpc-proxy forwards opaque payloads without decoding them.
type passthroughCodec struct{}

func (passthroughCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("gateway: passthroughCodec: unsupported type %T", v)
	}
	return f.Payload, nil
}

func (passthroughCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("gateway: passthroughCodec: unsupported type %T", v)
	}
	f.Payload = append([]byte(nil), data...)
	return nil
}

func (passthroughCodec) Name() string { return grpcCodecName }

func init() {
	encoding.RegisterCodec(passthroughCodec{})
}
