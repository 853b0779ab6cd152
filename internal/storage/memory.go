package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// MemoryBackend is a process-local Backend, used in tests and as the
// "memory://" storage.connection option for single-node development. It
// implements the exact same etag-CAS contract as any durable backend.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[Key]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[Key]Record)}
}

func (m *MemoryBackend) Read(_ context.Context, k Key) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[k]
	if !ok {
		return Record{}, errNotFound(k)
	}
	return rec, nil
}

func (m *MemoryBackend) Write(_ context.Context, k Key, payload []byte, expectedEtag Etag) (Etag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.data[k]
	curEtag := EtagNone
	if exists {
		curEtag = cur.Etag
	}
	if curEtag != expectedEtag {
		return EtagNone, errConflict(k, curEtag, expectedEtag)
	}

	newEtag := newEtag()
	m.data[k] = Record{Payload: append([]byte(nil), payload...), Etag: newEtag}
	return newEtag, nil
}

func (m *MemoryBackend) Clear(_ context.Context, k Key, expectedEtag Etag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.data[k]
	curEtag := EtagNone
	if exists {
		curEtag = cur.Etag
	}
	if curEtag != expectedEtag {
		return errConflict(k, curEtag, expectedEtag)
	}
	delete(m.data, k)
	return nil
}

func newEtag() Etag {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return Etag(hex.EncodeToString(b[:]))
}
