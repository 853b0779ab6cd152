package storage

import (
	"encoding/json"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// TextCodec is the self-describing codec bound to records that must stay
// readable across schema/version changes: the transaction log and stream
// subscription bookkeeping (spec.md §4.1, §4.4). JSON matches the teacher's
// own choice for anything crossing a process boundary outside the
// protobuf-typed RPC path (internal/adapter/pubsub/dispatcher.go marshals
// the domain event with encoding/json before publishing).
type TextCodec struct{}

func (TextCodec) Tag() CodecTag { return CodecText }

func (TextCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Fatal, err, "text codec: marshal failed")
	}
	return b, nil
}

func (TextCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return titanerr.Wrap(titanerr.Fatal, err, "text codec: unmarshal failed")
	}
	return nil
}
