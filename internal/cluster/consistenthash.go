package cluster

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// Member is anything a Ring can place on the hash circle. The teacher's
// infra/transport/subset package leans on an equivalent consistent.Member
// constraint; that package's implementation wasn't part of the retrieval
// pack, so Ring is a fresh generic hash ring in the same spirit (FNV-1a
// over virtual-replica keys, sorted ring, binary search for ownership).
type Member interface {
	comparable
	String() string
}

// Ring assigns identities to members via consistent hashing, so a
// membership change only reshuffles ownership for the fraction of keys
// that hashed near the joining/leaving member (spec.md §4.3).
type Ring[M Member] struct {
	mu         sync.RWMutex
	replicas   int
	hashes     []uint32
	hashToNode map[uint32]M
	members    []M
}

func NewRing[M Member](replicas int) *Ring[M] {
	if replicas <= 0 {
		replicas = 160
	}
	return &Ring[M]{
		replicas:   replicas,
		hashToNode: make(map[uint32]M),
	}
}

// Set replaces the ring's membership wholesale. Called whenever the
// directory observes a membership change.
func (r *Ring[M]) Set(members []M) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members = append([]M{}, members...)
	r.hashes = r.hashes[:0]
	r.hashToNode = make(map[uint32]M, len(members)*r.replicas)

	for _, m := range members {
		for i := 0; i < r.replicas; i++ {
			h := hashKey(m.String() + "#" + strconv.Itoa(i))
			r.hashes = append(r.hashes, h)
			r.hashToNode[h] = m
		}
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
}

// Get returns the single member owning key.
func (r *Ring[M]) Get(key string) (M, error) {
	var zero M
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.hashes) == 0 {
		return zero, titanerr.New(titanerr.Transient, "cluster: ring has no members")
	}
	h := hashKey(key)
	idx := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if idx == len(r.hashes) {
		idx = 0
	}
	return r.hashToNode[r.hashes[idx]], nil
}

// GetN returns up to n distinct members walking the ring clockwise from
// key, for replica placement or fan-out reads.
func (r *Ring[M]) GetN(key string, n int) ([]M, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.hashes) == 0 {
		return nil, titanerr.New(titanerr.Transient, "cluster: ring has no members")
	}
	if n >= len(r.members) {
		return append([]M{}, r.members...), nil
	}

	h := hashKey(key)
	start := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })

	seen := make(map[M]bool, n)
	out := make([]M, 0, n)
	for i := 0; i < len(r.hashes) && len(out) < n; i++ {
		idx := (start + i) % len(r.hashes)
		m := r.hashToNode[r.hashes[idx]]
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
