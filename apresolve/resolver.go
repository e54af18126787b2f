// Package apresolve resolves ActivityPub identifiers into locally
// persisted records, and resolves the actor + public key material needed
// to verify inbound signed requests.
//
// Identifiers are classified local or remote by apuri; local entities are
// looked up by id, remote entities by their stored canonical URI. Absence
// of a matching record is a nil result, never an error.
package apresolve

import (
	"context"

	"github.com/windrose-social/windrose/apuri"
	"github.com/windrose-social/windrose/idcache"
	"github.com/windrose-social/windrose/lazycache"
	"github.com/windrose-social/windrose/models"
	"github.com/windrose-social/windrose/store"
)

// Resolves a remote actor URI into a locally materialized user, performing
// whatever network fetch and verification the protocol requires. Returns
// (nil, nil) when the actor does not exist or is gone.
type PersonResolver interface {
	ResolvePerson(ctx context.Context, uri string) (*models.User, error)
}

// Get-or-load cache over public key records. Satisfied by
// lazycache.Cache[string, *models.UserPublicKey] and by rediskeys.Cache.
type KeyCache interface {
	Get(ctx context.Context, key string) (*models.UserPublicKey, error)
	Purge()
}

type Resolver struct {
	parser  *apuri.Parser
	store   *store.Store
	idents  *idcache.IdentityCache
	persons PersonResolver

	keysByID   KeyCache
	keysByUser KeyCache
}

// Cached key records are trusted forever once present; a cached absence is
// never trusted and triggers a reload on every call. Key records are
// expected to exist once an actor is onboarded, so the retried lookups for
// a persistently-missing key are an accepted cost.
func keyPresent(k *models.UserPublicKey) bool {
	return k != nil
}

func NewResolver(parser *apuri.Parser, s *store.Store, idents *idcache.IdentityCache, persons PersonResolver) *Resolver {
	return &Resolver{
		parser:     parser,
		store:      s,
		idents:     idents,
		persons:    persons,
		keysByID:   lazycache.New("key_by_key_id", s.PublicKeyByKeyID, keyPresent),
		keysByUser: lazycache.New("key_by_user_id", s.PublicKeyByUserID, keyPresent),
	}
}

// NewResolverWithKeyCaches swaps in externally constructed key caches, eg
// redis-backed ones shared across processes.
func NewResolverWithKeyCaches(parser *apuri.Parser, s *store.Store, idents *idcache.IdentityCache, persons PersonResolver, byKeyID, byUserID KeyCache) *Resolver {
	r := NewResolver(parser, s, idents, persons)
	r.keysByID = byKeyID
	r.keysByUser = byUserID
	return r
}

// ParseURI classifies an identifier without resolving it.
func (r *Resolver) ParseURI(raw string) (apuri.ParsedID, error) {
	return r.parser.Parse(raw)
}

// NoteFromApID resolves an identifier to a persisted note, or nil. A local
// identifier outside the "notes" namespace is not an error, just not a
// note.
func (r *Resolver) NoteFromApID(ctx context.Context, id string) (*models.Note, error) {
	parsed, err := r.parser.Parse(id)
	if err != nil {
		return nil, err
	}
	if local, ok := parsed.AsLocal(); ok {
		if local.Type != apuri.TypeNotes {
			return nil, nil
		}
		return r.store.NoteByID(ctx, local.ID)
	}
	uri, _ := parsed.AsRemote()
	return r.store.NoteByURI(ctx, uri)
}

// MessageFromApID resolves an identifier to a persisted chat message, or
// nil. Messages share the "notes" local namespace with notes.
func (r *Resolver) MessageFromApID(ctx context.Context, id string) (*models.Message, error) {
	parsed, err := r.parser.Parse(id)
	if err != nil {
		return nil, err
	}
	if local, ok := parsed.AsLocal(); ok {
		if local.Type != apuri.TypeNotes {
			return nil, nil
		}
		return r.store.MessageByID(ctx, local.ID)
	}
	uri, _ := parsed.AsRemote()
	return r.store.MessageByURI(ctx, uri)
}

// UserFromApID resolves an identifier to a persisted user, or nil. Both
// branches go through the identity cache, so absence is cached as well.
func (r *Resolver) UserFromApID(ctx context.Context, id string) (*models.User, error) {
	parsed, err := r.parser.Parse(id)
	if err != nil {
		return nil, err
	}
	if local, ok := parsed.AsLocal(); ok {
		if local.Type != apuri.TypeUsers {
			return nil, nil
		}
		return r.idents.UserByID(ctx, local.ID)
	}
	uri, _ := parsed.AsRemote()
	return r.idents.UserByURI(ctx, uri)
}

// UserFromObject extracts the identifier from a protocol value (raw string
// or object) and resolves it as a user.
func (r *Resolver) UserFromObject(ctx context.Context, obj any) (*models.User, error) {
	id, err := apuri.ExtractApID(obj)
	if err != nil {
		return nil, err
	}
	return r.UserFromApID(ctx, id)
}

// Shutdown drops the key caches. Idempotent; subsequent resolver calls
// repopulate from storage as if freshly constructed.
func (r *Resolver) Shutdown() {
	r.keysByID.Purge()
	r.keysByUser.Purge()
}
