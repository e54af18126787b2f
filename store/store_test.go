package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/windrose-social/windrose/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	s := NewStore(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestFindersReturnNilOnMissing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	note, err := s.NoteByID(ctx, "nope")
	assert.NoError(err)
	assert.Nil(note)

	note, err = s.NoteByURI(ctx, "https://remote.test/notes/nope")
	assert.NoError(err)
	assert.Nil(note)

	msg, err := s.MessageByID(ctx, "nope")
	assert.NoError(err)
	assert.Nil(msg)

	user, err := s.UserByID(ctx, "nope")
	assert.NoError(err)
	assert.Nil(user)

	key, err := s.PublicKeyByKeyID(ctx, "https://remote.test/users/1#main-key")
	assert.NoError(err)
	assert.Nil(key)

	key, err = s.PublicKeyByUserID(ctx, "nope")
	assert.NoError(err)
	assert.Nil(key)
}

func TestNoteAndMessageFinders(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	require.NoError(t, s.db.Create(&models.Note{ID: "n1", Text: "hi"}).Error)
	require.NoError(t, s.db.Create(&models.Note{ID: "n2", URI: "https://remote.test/notes/55", Text: "remote"}).Error)
	require.NoError(t, s.db.Create(&models.Message{ID: "m1", URI: "https://remote.test/messages/9"}).Error)

	note, err := s.NoteByID(ctx, "n1")
	assert.NoError(err)
	require.NotNil(t, note)
	assert.Equal("hi", note.Text)

	note, err = s.NoteByURI(ctx, "https://remote.test/notes/55")
	assert.NoError(err)
	require.NotNil(t, note)
	assert.Equal("n2", note.ID)

	msg, err := s.MessageByID(ctx, "m1")
	assert.NoError(err)
	require.NotNil(t, msg)

	msg, err = s.MessageByURI(ctx, "https://remote.test/messages/9")
	assert.NoError(err)
	require.NotNil(t, msg)
	assert.Equal("m1", msg.ID)
}

func TestUserAndKeyFinders(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	require.NoError(t, s.db.Create(&models.User{ID: "u1", Username: "alice"}).Error)
	require.NoError(t, s.db.Create(&models.User{ID: "u2", Username: "bob", Host: "remote.test", URI: "https://remote.test/users/bob"}).Error)
	require.NoError(t, s.db.Create(&models.UserPublicKey{KeyID: "https://remote.test/users/bob#main-key", UserID: "u2", KeyPem: "PEM"}).Error)

	user, err := s.UserByID(ctx, "u1")
	assert.NoError(err)
	require.NotNil(t, user)
	assert.True(user.IsLocal())

	user, err = s.UserByURI(ctx, "https://remote.test/users/bob")
	assert.NoError(err)
	require.NotNil(t, user)
	assert.True(user.IsRemote())
	assert.Equal("u2", user.ID)

	key, err := s.PublicKeyByKeyID(ctx, "https://remote.test/users/bob#main-key")
	assert.NoError(err)
	require.NotNil(t, key)
	assert.Equal("u2", key.UserID)

	key, err = s.PublicKeyByUserID(ctx, "u2")
	assert.NoError(err)
	require.NotNil(t, key)
	assert.Equal("PEM", key.KeyPem)
}

func TestUpserts(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	user := &models.User{ID: "u9", Username: "carol", Host: "remote.test", URI: "https://remote.test/users/carol"}
	require.NoError(t, s.UpsertRemoteUser(ctx, user))

	// refresh with changed fields, same id
	user.Inbox = "https://remote.test/users/carol/inbox"
	require.NoError(t, s.UpsertRemoteUser(ctx, user))

	got, err := s.UserByID(ctx, "u9")
	assert.NoError(err)
	require.NotNil(t, got)
	assert.Equal("https://remote.test/users/carol/inbox", got.Inbox)

	key := &models.UserPublicKey{KeyID: "https://remote.test/users/carol#main-key", UserID: "u9", KeyPem: "PEM1"}
	require.NoError(t, s.UpsertPublicKey(ctx, key))
	key.KeyPem = "PEM2"
	require.NoError(t, s.UpsertPublicKey(ctx, key))

	gotKey, err := s.PublicKeyByUserID(ctx, "u9")
	assert.NoError(err)
	require.NotNil(t, gotKey)
	assert.Equal("PEM2", gotKey.KeyPem)
}

func TestPublicKeyRotation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	old := &models.UserPublicKey{KeyID: "https://remote.test/users/dave#main-key", UserID: "u10", KeyPem: "PEM1"}
	require.NoError(t, s.UpsertPublicKey(ctx, old))

	// rotated key: same owner, new key id. Must replace the old row, not
	// trip over the one-key-per-user index.
	rotated := &models.UserPublicKey{KeyID: "https://remote.test/users/dave#main-key-2", UserID: "u10", KeyPem: "PEM2"}
	require.NoError(t, s.UpsertPublicKey(ctx, rotated))

	got, err := s.PublicKeyByUserID(ctx, "u10")
	assert.NoError(err)
	require.NotNil(t, got)
	assert.Equal("https://remote.test/users/dave#main-key-2", got.KeyID)
	assert.Equal("PEM2", got.KeyPem)

	stale, err := s.PublicKeyByKeyID(ctx, "https://remote.test/users/dave#main-key")
	assert.NoError(err)
	assert.Nil(stale)

	// re-announcing the current key is a refresh, not a conflict
	rotated.KeyPem = "PEM3"
	require.NoError(t, s.UpsertPublicKey(ctx, rotated))
	got, err = s.PublicKeyByKeyID(ctx, "https://remote.test/users/dave#main-key-2")
	assert.NoError(err)
	require.NotNil(t, got)
	assert.Equal("PEM3", got.KeyPem)
}
