// Package rediskeys is a redis-backed variant of the public key caches,
// for deployments that want key lookups shared across processes. It
// implements the same get-or-load contract as the in-process lazycache:
// loader on miss, acceptance predicate gating cached entries, explicit
// purge.
//
// Unlike the in-process caches, entries here carry a TTL: a shared cache
// outlives any single process, so unbounded lifetime would make key
// rotation invisible to the whole fleet. The in-process tier is omitted on
// purpose, so Purge can actually drop every entry.
package rediskeys

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/windrose-social/windrose/lazycache"
	"github.com/windrose-social/windrose/models"
)

type Cache struct {
	loader lazycache.Loader[string, *models.UserPublicKey]
	accept func(*models.UserPublicKey) bool

	rdb       *redis.Client
	cache     *cache.Cache
	prefix    string
	hitTTL    time.Duration
	absentTTL time.Duration
	loadChans sync.Map
}

type keyEntry struct {
	Updated time.Time
	Key     *models.UserPublicKey
}

// in-flight load shared by coalesced waiters
type load struct {
	done chan struct{}
	key  *models.UserPublicKey
	err  error
}

// New connects to redis and returns a key cache. prefix namespaces this
// cache's keys (eg "authkey/id/"). accept may be nil to trust every cached
// entry, including cached absence.
func New(redisURL, prefix string, hitTTL, absentTTL time.Duration, loader lazycache.Loader[string, *models.UserPublicKey], accept func(*models.UserPublicKey) bool) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis key cache: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to redis key cache: %w", err)
	}
	if accept == nil {
		accept = func(*models.UserPublicKey) bool { return true }
	}
	return &Cache{
		loader:    loader,
		accept:    accept,
		rdb:       rdb,
		cache:     cache.New(&cache.Options{Redis: rdb}),
		prefix:    prefix,
		hitTTL:    hitTTL,
		absentTTL: absentTTL,
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (*models.UserPublicKey, error) {
	var entry keyEntry
	err := c.cache.Get(ctx, c.prefix+key, &entry)
	if err != nil && err != cache.ErrCacheMiss {
		return nil, fmt.Errorf("key cache read failed: %w", err)
	}
	if err == nil && c.accept(entry.Key) { // if no error...
		return entry.Key, nil
	}

	// Coalesce multiple requests for the same key. Waiters take the
	// winner's outcome straight from the load record, not via a cache
	// re-read: a loader failure or a lost redis write would otherwise
	// leave them with nothing to read.
	ld := &load{done: make(chan struct{})}
	val, loaded := c.loadChans.LoadOrStore(key, ld)
	if loaded {
		pending := val.(*load)
		select {
		case <-pending.done:
			return pending.key, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ld.key, ld.err = c.loader(ctx, key)
	if ld.err == nil {
		ttl := c.hitTTL
		if ld.key == nil {
			ttl = c.absentTTL
		}
		err = c.cache.Set(&cache.Item{
			Ctx:   ctx,
			Key:   c.prefix + key,
			Value: keyEntry{Updated: time.Now(), Key: ld.key},
			TTL:   ttl,
		})
		if err != nil {
			slog.Error("key cache write failed", "key", key, "err", err)
		}
	}

	c.loadChans.Delete(key)
	close(ld.done)

	return ld.key, ld.err
}

// Purge deletes every entry under this cache's prefix. Idempotent.
func (c *Cache) Purge() {
	ctx := context.Background()
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Error("key cache purge failed", "key", iter.Val(), "err", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Error("key cache purge scan failed", "err", err)
	}
}
