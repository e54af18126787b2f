// Package apfetch materializes remote actors: it fetches the actor
// document over HTTP, checks it names itself consistently, and persists
// the resulting user and public key record.
//
// Failure policy: a 404 or 410 from the remote origin is absence, not an
// error. Transport-level failures are retried by the HTTP client and then
// propagated. Callers impose their own deadline via ctx.
package apfetch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/windrose-social/windrose/idcache"
	"github.com/windrose-social/windrose/models"
	"github.com/windrose-social/windrose/store"
)

const activityJSONType = "application/activity+json"

// wire shape of the fetched actor document
type actorDoc struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	PreferredUsername string    `json:"preferredUsername"`
	Inbox             string    `json:"inbox"`
	PublicKey         *actorKey `json:"publicKey,omitempty"`
}

type actorKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Service struct {
	store  *store.Store
	idents *idcache.IdentityCache
	client *retryablehttp.Client
	// if not nil, applied to every outbound fetch
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger

	// in-flight first-resolves by actor URI
	resolves sync.Map
}

type pendingResolve struct {
	done chan struct{}
	user *models.User
	err  error
}

func NewService(s *store.Store, idents *idcache.IdentityCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = time.Second * 30
	client.Logger = nil
	return &Service{
		store:     s,
		idents:    idents,
		client:    client,
		userAgent: "windrose/1.0 (+https://github.com/windrose-social/windrose)",
		logger:    logger.With("system", "apfetch"),
	}
}

// SetRateLimit caps outbound actor fetches at n per second.
func (s *Service) SetRateLimit(perSecond float64) {
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// ResolvePerson returns the locally materialized user for a remote actor
// URI, fetching and persisting it if this instance has not seen it before.
// Returns (nil, nil) when the actor does not exist or is gone.
func (s *Service) ResolvePerson(ctx context.Context, uri string) (*models.User, error) {
	user, err := s.idents.UserByURI(ctx, uri)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// Coalesce concurrent first-resolves of the same URI; each racer
	// would otherwise fetch independently and mint its own local id.
	pr := &pendingResolve{done: make(chan struct{})}
	val, loaded := s.resolves.LoadOrStore(uri, pr)
	if loaded {
		pending := val.(*pendingResolve)
		select {
		case <-pending.done:
			return pending.user, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	pr.user, pr.err = s.fetchAndMaterialize(ctx, uri)
	s.resolves.Delete(uri)
	close(pr.done)
	return pr.user, pr.err
}

func (s *Service) fetchAndMaterialize(ctx context.Context, uri string) (*models.User, error) {
	doc, err := s.fetchActor(ctx, uri)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return s.materialize(ctx, uri, doc)
}

func (s *Service) fetchActor(ctx context.Context, uri string) (*actorDoc, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid actor URI %q: %w", uri, err)
	}
	req.Header.Set("Accept", activityJSONType)
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		actorFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("actor fetch failed: %w", err)
	}
	defer resp.Body.Close()
	actorFetchDuration.Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		actorFetches.WithLabelValues("absent").Inc()
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		actorFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("actor fetch failed, HTTP status: %d", resp.StatusCode)
	}

	var doc actorDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		actorFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed parse of actor document: %w", err)
	}
	actorFetches.WithLabelValues("ok").Inc()
	return &doc, nil
}

// The document must name itself with an id on the same origin it was
// fetched from; a cross-origin id would let one instance impersonate
// actors of another.
func checkSameOrigin(fetched, declared string) error {
	fu, err := url.Parse(fetched)
	if err != nil {
		return err
	}
	du, err := url.Parse(declared)
	if err != nil {
		return err
	}
	if !strings.EqualFold(fu.Scheme, du.Scheme) || !strings.EqualFold(fu.Host, du.Host) {
		return fmt.Errorf("actor document id %q not on fetched origin %q", declared, fetched)
	}
	return nil
}

func (s *Service) materialize(ctx context.Context, uri string, doc *actorDoc) (*models.User, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("actor document has no id")
	}
	if err := checkSameOrigin(uri, doc.ID); err != nil {
		return nil, err
	}

	host, err := hostOf(doc.ID)
	if err != nil {
		return nil, err
	}

	// keep a stable local id across refreshes of the same actor
	existing, err := s.store.UserByURI(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	id := newID()
	if existing != nil {
		id = existing.ID
	}

	user := &models.User{
		ID:       id,
		Username: doc.PreferredUsername,
		Host:     host,
		URI:      doc.ID,
		Inbox:    doc.Inbox,
	}
	if err := s.store.UpsertRemoteUser(ctx, user); err != nil {
		return nil, err
	}
	if doc.PublicKey != nil && doc.PublicKey.ID != "" {
		key := &models.UserPublicKey{
			KeyID:  doc.PublicKey.ID,
			UserID: user.ID,
			KeyPem: doc.PublicKey.PublicKeyPem,
		}
		if err := s.store.UpsertPublicKey(ctx, key); err != nil {
			return nil, err
		}
	}

	s.idents.Put(user)
	s.logger.Info("materialized remote actor", "uri", doc.ID, "user", user.ID)
	return user, nil
}

func hostOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("actor id %q has no host", uri)
	}
	return strings.ToLower(u.Host), nil
}

func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
