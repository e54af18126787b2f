package apresolve

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/windrose-social/windrose/models"
)

// The answer to "who signed this inbound request". Key may be nil on the
// actor-URI path when the actor resolved but no key record exists yet.
type AuthUser struct {
	User *models.User
	Key  *models.UserPublicKey
}

// AuthUserFromKeyID resolves the signing actor and key from the keyId of
// an inbound HTTP signature. Returns nil when no key record matches.
//
// Key records found once are served from cache on every later call; a
// missing record is looked up in storage again on every call, so a key
// inserted after a failed attempt is observed without any invalidation.
func (r *Resolver) AuthUserFromKeyID(ctx context.Context, keyID string) (*AuthUser, error) {
	ctx, span := otel.Tracer("apresolve").Start(ctx, "authUserFromKeyID")
	defer span.End()

	key, err := r.keysByID.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}

	// this auth path only serves remote actors
	user, err := r.idents.UserByID(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// dangling key record, owning user row is gone
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("found", true))
	return &AuthUser{User: user, Key: key}, nil
}

// AuthUserFromApID resolves the signing actor from its actor URI, going
// through full remote resolution (fetch, verification, materialization).
// Returns nil when the actor does not resolve. The returned Key may be
// nil: a resolved actor without a key record is a valid terminal result
// for this call, though the absence itself is not cached as trusted.
func (r *Resolver) AuthUserFromApID(ctx context.Context, actorURI string) (*AuthUser, error) {
	ctx, span := otel.Tracer("apresolve").Start(ctx, "authUserFromApID")
	defer span.End()
	span.SetAttributes(attribute.String("actor.uri", actorURI))

	user, err := r.persons.ResolvePerson(ctx, actorURI)
	if err != nil {
		return nil, err
	}
	if user == nil {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}

	key, err := r.keysByUser.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", true), attribute.Bool("key.found", key != nil))
	return &AuthUser{User: user, Key: key}, nil
}
