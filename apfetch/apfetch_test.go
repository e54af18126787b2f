package apfetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/windrose-social/windrose/idcache"
	"github.com/windrose-social/windrose/models"
	"github.com/windrose-social/windrose/store"
)

func testService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	s := store.NewStore(db)
	require.NoError(t, s.AutoMigrate())
	return NewService(s, idcache.New(s), nil), s
}

func actorHandler(t *testing.T, hits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, activityJSONType, r.Header.Get("Accept"))
		base := "http://" + r.Host
		switch r.URL.Path {
		case "/users/bob":
			json.NewEncoder(w).Encode(map[string]any{
				"id":                base + "/users/bob",
				"type":              "Person",
				"preferredUsername": "bob",
				"inbox":             base + "/users/bob/inbox",
				"publicKey": map[string]any{
					"id":           base + "/users/bob#main-key",
					"owner":        base + "/users/bob",
					"publicKeyPem": "PEM",
				},
			})
		case "/users/keyless":
			json.NewEncoder(w).Encode(map[string]any{
				"id":                base + "/users/keyless",
				"type":              "Person",
				"preferredUsername": "keyless",
				"inbox":             base + "/users/keyless/inbox",
			})
		case "/users/impostor":
			json.NewEncoder(w).Encode(map[string]any{
				"id":   "https://elsewhere.test/users/impostor",
				"type": "Person",
			})
		case "/users/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestResolvePersonMaterializes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	var hits atomic.Int64
	ts := httptest.NewServer(actorHandler(t, &hits))
	defer ts.Close()
	svc, s := testService(t)

	uri := ts.URL + "/users/bob"
	user, err := svc.ResolvePerson(ctx, uri)
	assert.NoError(err)
	require.NotNil(t, user)
	assert.Equal("bob", user.Username)
	assert.Equal(uri, user.URI)
	assert.True(user.IsRemote())

	host := strings.ToLower(mustHost(t, ts.URL))
	assert.Equal(host, user.Host)

	// user and key record are persisted
	stored, err := s.UserByURI(ctx, uri)
	assert.NoError(err)
	require.NotNil(t, stored)
	key, err := s.PublicKeyByUserID(ctx, stored.ID)
	assert.NoError(err)
	require.NotNil(t, key)
	assert.Equal(uri+"#main-key", key.KeyID)
	assert.Equal("PEM", key.KeyPem)

	// a second resolve is served from the identity cache, no refetch
	again, err := svc.ResolvePerson(ctx, uri)
	assert.NoError(err)
	require.NotNil(t, again)
	assert.Equal(stored.ID, again.ID)
	assert.EqualValues(1, hits.Load())
}

func TestResolvePersonAbsent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	var hits atomic.Int64
	ts := httptest.NewServer(actorHandler(t, &hits))
	defer ts.Close()
	svc, _ := testService(t)

	user, err := svc.ResolvePerson(ctx, ts.URL+"/users/nobody")
	assert.NoError(err)
	assert.Nil(user)

	user, err = svc.ResolvePerson(ctx, ts.URL+"/users/gone")
	assert.NoError(err)
	assert.Nil(user)
}

func TestResolvePersonNoKey(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	var hits atomic.Int64
	ts := httptest.NewServer(actorHandler(t, &hits))
	defer ts.Close()
	svc, s := testService(t)

	user, err := svc.ResolvePerson(ctx, ts.URL+"/users/keyless")
	assert.NoError(err)
	require.NotNil(t, user)

	key, err := s.PublicKeyByUserID(ctx, user.ID)
	assert.NoError(err)
	assert.Nil(key)
}

func TestResolvePersonCrossOriginID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	var hits atomic.Int64
	ts := httptest.NewServer(actorHandler(t, &hits))
	defer ts.Close()
	svc, _ := testService(t)

	_, err := svc.ResolvePerson(ctx, ts.URL+"/users/impostor")
	assert.Error(err)
}

func TestMaterializeKeepsStableID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, s := testService(t)

	doc := &actorDoc{
		ID:                "https://remote.test/users/erin",
		Type:              "Person",
		PreferredUsername: "erin",
		Inbox:             "https://remote.test/users/erin/inbox",
	}

	user, err := svc.materialize(ctx, doc.ID, doc)
	assert.NoError(err)
	require.NotNil(t, user)

	// a refresh of the same actor keeps the local id
	doc.PreferredUsername = "erin2"
	again, err := svc.materialize(ctx, doc.ID, doc)
	assert.NoError(err)
	require.NotNil(t, again)
	assert.Equal(user.ID, again.ID)

	stored, err := s.UserByURI(ctx, doc.ID)
	assert.NoError(err)
	require.NotNil(t, stored)
	assert.Equal("erin2", stored.Username)
}

func TestMaterializeRotatedKey(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	svc, s := testService(t)

	doc := &actorDoc{
		ID:                "https://remote.test/users/frank",
		Type:              "Person",
		PreferredUsername: "frank",
		Inbox:             "https://remote.test/users/frank/inbox",
		PublicKey: &actorKey{
			ID:           "https://remote.test/users/frank#main-key",
			Owner:        "https://remote.test/users/frank",
			PublicKeyPem: "PEM1",
		},
	}

	user, err := svc.materialize(ctx, doc.ID, doc)
	assert.NoError(err)
	require.NotNil(t, user)

	// the actor rotated its key since we last saw it
	doc.PublicKey.ID = "https://remote.test/users/frank#main-key-2"
	doc.PublicKey.PublicKeyPem = "PEM2"
	again, err := svc.materialize(ctx, doc.ID, doc)
	assert.NoError(err)
	require.NotNil(t, again)
	assert.Equal(user.ID, again.ID)

	key, err := s.PublicKeyByUserID(ctx, user.ID)
	assert.NoError(err)
	require.NotNil(t, key)
	assert.Equal("https://remote.test/users/frank#main-key-2", key.KeyID)
	assert.Equal("PEM2", key.KeyPem)

	stale, err := s.PublicKeyByKeyID(ctx, "https://remote.test/users/frank#main-key")
	assert.NoError(err)
	assert.Nil(stale)
}

func TestConcurrentFirstResolves(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	s := store.NewStore(db)
	require.NoError(t, s.AutoMigrate())
	svc := NewService(s, idcache.New(s), nil)

	var hits atomic.Int64
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		base := "http://" + r.Host
		json.NewEncoder(w).Encode(map[string]any{
			"id":                base + "/users/grace",
			"type":              "Person",
			"preferredUsername": "grace",
			"inbox":             base + "/users/grace/inbox",
		})
	}))
	defer ts.Close()

	uri := ts.URL + "/users/grace"
	const n = 8
	var wg sync.WaitGroup
	results := make([]*models.User, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, err := svc.ResolvePerson(ctx, uri)
			assert.NoError(err)
			results[i] = user
		}(i)
	}
	// let every goroutine reach the coalesce point before the fetch finishes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// one fetch, one minted id, one persisted row
	assert.EqualValues(1, hits.Load())
	require.NotNil(t, results[0])
	for _, user := range results {
		require.NotNil(t, user)
		assert.Equal(results[0].ID, user.ID)
	}
	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("uri = ?", uri).Count(&count).Error)
	assert.EqualValues(1, count)
}

func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Host
}
