// Package idcache caches user lookups by local id and by canonical actor
// URI. Both mappings cache absence: a repeated lookup of an id or URI that
// matched nothing is served from cache without touching storage, until the
// cache is shut down or the entry is replaced via Put.
package idcache

import (
	"context"

	"github.com/windrose-social/windrose/lazycache"
	"github.com/windrose-social/windrose/models"
	"github.com/windrose-social/windrose/store"
)

type IdentityCache struct {
	store *store.Store
	byID  *lazycache.Cache[string, *models.User]
	byURI *lazycache.Cache[string, *models.User]
}

func New(s *store.Store) *IdentityCache {
	return &IdentityCache{
		store: s,
		byID:  lazycache.New("user_by_id", s.UserByID, nil),
		byURI: lazycache.New("user_by_uri", s.UserByURI, nil),
	}
}

// UserByID returns the user with the given local id, or nil. The outcome,
// including absence, is cached.
func (c *IdentityCache) UserByID(ctx context.Context, id string) (*models.User, error) {
	return c.byID.Get(ctx, id)
}

// UserByURI returns the user with the given canonical actor URI, or nil.
// The outcome, including absence, is cached.
func (c *IdentityCache) UserByURI(ctx context.Context, uri string) (*models.User, error) {
	return c.byURI.Get(ctx, uri)
}

// FindUserByID is a direct storage passthrough, bypassing the cache.
func (c *IdentityCache) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return c.store.UserByID(ctx, id)
}

// Put warms both mappings with a freshly materialized user.
func (c *IdentityCache) Put(user *models.User) {
	if user == nil {
		return
	}
	c.byID.Set(user.ID, user)
	if user.URI != "" {
		c.byURI.Set(user.URI, user)
	}
}

// Shutdown drops all cached entries. Idempotent.
func (c *IdentityCache) Shutdown() {
	c.byID.Purge()
	c.byURI.Purge()
}
