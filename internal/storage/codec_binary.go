package storage

import (
	"bytes"
	"encoding/gob"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// BinaryCodec is the compact codec bound to application state slots
// (e.g. a cell kind's "PrimaryStore"). gob is the idiomatic stdlib choice
// for this role — the teacher's own wire payloads (e.g. the AMQP event
// envelope) use a single explicit encoding rather than a third-party binary
// serializer, and no pack repo carries a dedicated compact-binary library
// that isn't protobuf (reserved here for RPC wire types, per SPEC_FULL.md).
type BinaryCodec struct{}

func (BinaryCodec) Tag() CodecTag { return CodecBinary }

func (BinaryCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, titanerr.Wrap(titanerr.Fatal, err, "binary codec: encode failed")
	}
	return buf.Bytes(), nil
}

func (BinaryCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return titanerr.Wrap(titanerr.Fatal, err, "binary codec: decode failed")
	}
	return nil
}
