package storage

import (
	"context"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// SlotSpec declares which backend and codec a named slot is bound to. Cell
// kinds declare one SlotSpec per state slot (spec.md §3: "a cell may bind
// specific slots to specific backends").
type SlotSpec struct {
	Backend Backend
	Codec   Codec
}

// SlotStore is the typed convenience wrapper cells use instead of calling
// Backend.Read/Write directly with hand-rolled marshaling at every call
// site.
type SlotStore struct {
	specs map[string]SlotSpec
}

func NewSlotStore(specs map[string]SlotSpec) *SlotStore {
	return &SlotStore{specs: specs}
}

func (s *SlotStore) spec(slot string) (SlotSpec, error) {
	spec, ok := s.specs[slot]
	if !ok {
		return SlotSpec{}, titanerr.New(titanerr.Fatal, "storage: slot %q has no declared backend/codec", slot)
	}
	return spec, nil
}

// Load reads and unmarshals slot into dst, returning the etag for a
// subsequent CAS write. A missing slot is reported as titanerr.NotFound.
func (s *SlotStore) Load(ctx context.Context, cellKind, key, slot string, dst any) (Etag, error) {
	spec, err := s.spec(slot)
	if err != nil {
		return EtagNone, err
	}
	rec, err := spec.Backend.Read(ctx, Key{CellKind: cellKind, Key: key, Slot: slot})
	if err != nil {
		return EtagNone, err
	}
	if err := spec.Codec.Unmarshal(rec.Payload, dst); err != nil {
		return EtagNone, err
	}
	return rec.Etag, nil
}

// Save marshals v and writes it under the expected etag, returning the new
// etag on success or titanerr.Conflict on an etag mismatch.
func (s *SlotStore) Save(ctx context.Context, cellKind, key, slot string, v any, expectedEtag Etag) (Etag, error) {
	spec, err := s.spec(slot)
	if err != nil {
		return EtagNone, err
	}
	payload, err := spec.Codec.Marshal(v)
	if err != nil {
		return EtagNone, err
	}
	return spec.Backend.Write(ctx, Key{CellKind: cellKind, Key: key, Slot: slot}, payload, expectedEtag)
}

// Clear removes a slot under the expected etag.
func (s *SlotStore) Clear(ctx context.Context, cellKind, key, slot string, expectedEtag Etag) error {
	spec, err := s.spec(slot)
	if err != nil {
		return err
	}
	return spec.Backend.Clear(ctx, Key{CellKind: cellKind, Key: key, Slot: slot}, expectedEtag)
}
