package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/windrose-social/windrose/models"
)

// Read-mostly storage collaborator for the resolution core. All finders
// return (nil, nil) when no matching row exists; an error always means the
// query itself failed.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.Note{},
		&models.Message{},
		&models.UserPublicKey{},
	)
}

func (s *Store) NoteByID(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note
	if err := s.db.WithContext(ctx).First(&note, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("note lookup failed: %w", err)
	}
	return &note, nil
}

func (s *Store) NoteByURI(ctx context.Context, uri string) (*models.Note, error) {
	var note models.Note
	if err := s.db.WithContext(ctx).First(&note, "uri = ?", uri).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("note lookup failed: %w", err)
	}
	return &note, nil
}

func (s *Store) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("message lookup failed: %w", err)
	}
	return &msg, nil
}

func (s *Store) MessageByURI(ctx context.Context, uri string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, "uri = ?", uri).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("message lookup failed: %w", err)
	}
	return &msg, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return &user, nil
}

func (s *Store) UserByURI(ctx context.Context, uri string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "uri = ?", uri).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return &user, nil
}

func (s *Store) PublicKeyByKeyID(ctx context.Context, keyID string) (*models.UserPublicKey, error) {
	var key models.UserPublicKey
	if err := s.db.WithContext(ctx).First(&key, "key_id = ?", keyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("public key lookup failed: %w", err)
	}
	return &key, nil
}

func (s *Store) PublicKeyByUserID(ctx context.Context, userID string) (*models.UserPublicKey, error) {
	var key models.UserPublicKey
	if err := s.db.WithContext(ctx).First(&key, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("public key lookup failed: %w", err)
	}
	return &key, nil
}

// UpsertRemoteUser persists a fetched remote actor, keyed by canonical URI.
// Used by the remote-actor materialization path, not by the resolvers.
func (s *Store) UpsertRemoteUser(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(user).Error; err != nil {
		return fmt.Errorf("remote user upsert failed: %w", err)
	}
	return nil
}

// UpsertPublicKey persists an actor's key record. A user has at most one
// key, so a rotated key (same user, new key id) replaces the previous row.
func (s *Store) UpsertPublicKey(ctx context.Context, key *models.UserPublicKey) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND key_id <> ?", key.UserID, key.KeyID).
			Delete(&models.UserPublicKey{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key_id"}},
			UpdateAll: true,
		}).Create(key).Error
	})
	if err != nil {
		return fmt.Errorf("public key upsert failed: %w", err)
	}
	return nil
}
