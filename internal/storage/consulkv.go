package storage

import (
	"context"
	"fmt"
	"strconv"

	capi "github.com/hashicorp/consul/api"
	"github.com/titan-mmo/titan/internal/titanerr"
)

// ConsulBackend stores every slot as a single consul KV entry, using the
// entry's ModifyIndex as the etag and consul's CAS write as the optimistic-
// concurrency primitive spec.md §4.1 requires. This is the same KV the
// cluster directory (internal/cluster) uses for membership and placement
// leases — consul's CAS index doubles as the fencing token in both places.
type ConsulBackend struct {
	kv     *capi.KV
	prefix string
}

func NewConsulBackend(client *capi.Client, prefix string) *ConsulBackend {
	if prefix == "" {
		prefix = "titan/storage"
	}
	return &ConsulBackend{kv: client.KV(), prefix: prefix}
}

func (c *ConsulBackend) path(k Key) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.prefix, k.CellKind, k.Key, k.Slot)
}

func (c *ConsulBackend) Read(_ context.Context, k Key) (Record, error) {
	pair, _, err := c.kv.Get(c.path(k), nil)
	if err != nil {
		return Record{}, titanerr.Wrap(titanerr.Transient, err, "consul: get failed")
	}
	if pair == nil {
		return Record{}, errNotFound(k)
	}
	return Record{Payload: pair.Value, Etag: indexEtag(pair.ModifyIndex)}, nil
}

func (c *ConsulBackend) Write(_ context.Context, k Key, payload []byte, expectedEtag Etag) (Etag, error) {
	idx, err := etagIndex(expectedEtag)
	if err != nil {
		return EtagNone, err
	}

	pair := &capi.KVPair{Key: c.path(k), Value: payload, ModifyIndex: idx}
	ok, _, werr := c.kv.CAS(pair, nil)
	if werr != nil {
		return EtagNone, titanerr.Wrap(titanerr.Transient, werr, "consul: cas write failed")
	}
	if !ok {
		cur, _, gerr := c.kv.Get(c.path(k), nil)
		haveEtag := EtagNone
		if gerr == nil && cur != nil {
			haveEtag = indexEtag(cur.ModifyIndex)
		}
		return EtagNone, errConflict(k, haveEtag, expectedEtag)
	}

	cur, _, gerr := c.kv.Get(c.path(k), nil)
	if gerr != nil || cur == nil {
		return EtagNone, titanerr.Wrap(titanerr.Transient, gerr, "consul: post-write read failed")
	}
	return indexEtag(cur.ModifyIndex), nil
}

func (c *ConsulBackend) Clear(_ context.Context, k Key, expectedEtag Etag) error {
	idx, err := etagIndex(expectedEtag)
	if err != nil {
		return err
	}

	pair := &capi.KVPair{Key: c.path(k), ModifyIndex: idx}
	ok, _, werr := c.kv.DeleteCAS(pair, nil)
	if werr != nil {
		return titanerr.Wrap(titanerr.Transient, werr, "consul: cas delete failed")
	}
	if !ok {
		cur, _, gerr := c.kv.Get(c.path(k), nil)
		haveEtag := EtagNone
		if gerr == nil && cur != nil {
			haveEtag = indexEtag(cur.ModifyIndex)
		}
		return errConflict(k, haveEtag, expectedEtag)
	}
	return nil
}

func indexEtag(idx uint64) Etag {
	return Etag(strconv.FormatUint(idx, 10))
}

func etagIndex(e Etag) (uint64, error) {
	if e == EtagNone {
		return 0, nil
	}
	idx, err := strconv.ParseUint(string(e), 10, 64)
	if err != nil {
		return 0, titanerr.Wrap(titanerr.InvalidInput, err, "consul: malformed etag %q", e)
	}
	return idx, nil
}
