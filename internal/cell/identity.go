// Package cell implements the virtual-actor execution model of spec.md
// §4.2: cell identity, single-threaded mailbox dispatch, on-demand
// activation/passivation, timers, and the reentrant-call guard.
package cell

import (
	"fmt"

	"github.com/google/uuid"
)

// KeyKind discriminates the three shapes spec.md §3 allows for a cell's Key.
type KeyKind uint8

const (
	KeyUUID KeyKind = iota + 1
	KeyString
	KeyCompound // (UUID, string) — e.g. a character namespaced by season.
)

// Key is one cell identity's key component. Exactly one of the fields is
// meaningful, selected by Kind.
type Key struct {
	Kind KeyKind
	UUID uuid.UUID
	Str  string
}

func UUIDKey(id uuid.UUID) Key       { return Key{Kind: KeyUUID, UUID: id} }
func StringKey(s string) Key         { return Key{Kind: KeyString, Str: s} }
func CompoundKey(id uuid.UUID, s string) Key {
	return Key{Kind: KeyCompound, UUID: id, Str: s}
}

// String renders a stable textual form used both for storage paths and for
// map-keying identities (Key itself is comparable and usable as a map key
// since uuid.UUID and string are both comparable, but the string form is
// what crosses process boundaries and storage).
func (k Key) String() string {
	switch k.Kind {
	case KeyUUID:
		return k.UUID.String()
	case KeyString:
		return k.Str
	case KeyCompound:
		return k.UUID.String() + ":" + k.Str
	default:
		return ""
	}
}

// Identity is the (CellKind, Key) pair that is simultaneously the routing
// unit and the concurrency unit (spec.md §3): every invocation against the
// same Identity is serialized through one mailbox.
type Identity struct {
	Kind string
	Key  Key
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s", id.Kind, id.Key.String())
}

// New builds an Identity; a thin constructor kept mainly so call sites read
// as `cell.New("Character", cell.CompoundKey(seasonID, name))`.
func New(kind string, key Key) Identity {
	return Identity{Kind: kind, Key: key}
}
