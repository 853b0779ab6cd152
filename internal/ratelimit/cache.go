package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/titan-mmo/titan/internal/titanerr"
)

type cacheEntry struct {
	policy    Policy
	expiresAt time.Time
}

// ConfigCache sits in front of PolicyConfig.Resolve so a rule check on the
// hot path doesn't invoke the config cell for every request. Each entry is
// good for ConfigCacheTTL; past that it's revalidated against the cell, but
// a stale entry is still served — rather than failing the request open or
// closed — if the cell can't be reached, per the gateway's documented
// warm-cache fallback. The same resolved set is mirrored to a local
// snapshot file, watched with fsnotify so a sibling process (or an
// operator dropping in a new snapshot by hand) is picked up without a
// restart.
type ConfigCache struct {
	policy *PolicyConfig
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	lru   *lru.Cache[string, cacheEntry]
	path  string
	watch *fsnotify.Watcher
}

func NewConfigCache(policy *PolicyConfig, ttl time.Duration, snapshotPath string, logger *slog.Logger) (*ConfigCache, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l, err := lru.New[string, cacheEntry](1024)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.Fatal, err, "ratelimit: building config cache")
	}
	c := &ConfigCache{policy: policy, ttl: ttl, logger: logger, lru: l, path: snapshotPath}
	c.loadSnapshot()
	return c, nil
}

// Resolve returns the policy bound to endpoint, consulting the cache
// before the config cell and falling back to a stale cache entry (or the
// on-disk snapshot) if the cell is unreachable.
func (c *ConfigCache) Resolve(ctx context.Context, endpoint string) (Policy, error) {
	c.mu.Lock()
	entry, ok := c.lru.Get(endpoint)
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.policy, nil
	}

	policy, err := c.policy.Resolve(ctx, endpoint)
	if err != nil {
		if ok && titanerr.Retryable(err) {
			c.logger.Warn("RATELIMIT_CONFIG_CELL_UNREACHABLE_USING_STALE_CACHE",
				slog.String("endpoint", endpoint), slog.Any("err", err))
			return entry.policy, nil
		}
		return Policy{}, err
	}

	c.mu.Lock()
	c.lru.Add(endpoint, cacheEntry{policy: policy, expiresAt: time.Now().Add(c.ttl)})
	c.mu.Unlock()
	c.saveSnapshot()
	return policy, nil
}

// snapshot is the on-disk mirror format: endpoint -> resolved policy. It
// only exists to seed the cache warm across a process restart and to give
// the fallback path something to read when the cell has never been
// reachable since boot.
type snapshot map[string]Policy

func (c *ConfigCache) loadSnapshot() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return // no prior snapshot; cache starts cold, which is fine
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("RATELIMIT_SNAPSHOT_CORRUPT", slog.String("path", c.path), slog.Any("err", err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := time.Now().Add(c.ttl)
	for endpoint, policy := range snap {
		c.lru.Add(endpoint, cacheEntry{policy: policy, expiresAt: expiresAt})
	}
}

func (c *ConfigCache) saveSnapshot() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	snap := make(snapshot, c.lru.Len())
	for _, endpoint := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(endpoint); ok {
			snap[endpoint] = entry.policy
		}
	}
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("RATELIMIT_SNAPSHOT_WRITE_FAILED", slog.String("path", c.path), slog.Any("err", err))
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Warn("RATELIMIT_SNAPSHOT_RENAME_FAILED", slog.String("path", c.path), slog.Any("err", err))
	}
}

// Watch starts an fsnotify watch on the snapshot file's directory and
// reloads it into the in-memory cache whenever it changes — picking up an
// operator-replaced snapshot, or one written by a sibling process sharing
// the same volume, without restarting this one.
func (c *ConfigCache) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return titanerr.Wrap(titanerr.Fatal, err, "ratelimit: creating snapshot watcher")
	}
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return titanerr.Wrap(titanerr.Fatal, err, "ratelimit: watching snapshot dir %s", dir)
	}
	c.watch = watcher

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					c.loadSnapshot()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("RATELIMIT_SNAPSHOT_WATCH_ERROR", slog.Any("err", err))
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watch, if one was started.
func (c *ConfigCache) Close() error {
	if c.watch == nil {
		return nil
	}
	return c.watch.Close()
}
