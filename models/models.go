package models

import (
	"time"
)

// A federated actor. Local users have an empty Host and no URI; remote
// users carry the canonical actor URI they were fetched from.
type User struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Username  string `gorm:"index:idx_user_username_host,unique"`
	Host      string `gorm:"index:idx_user_username_host,unique"`
	URI       string `gorm:"index"`
	Inbox     string
	Suspended bool
}

func (u *User) IsLocal() bool {
	return u.Host == ""
}

func (u *User) IsRemote() bool {
	return u.Host != ""
}

// A published note. Remote-origin notes carry the canonical object URI
// assigned by the ingestion path at creation time.
type Note struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	URI       string `gorm:"index"`
	UserID    string `gorm:"index"`
	Text      string
	ReplyID   string
	Deleted   bool
}

// A direct chat message. Addressed under the same "notes" local path
// namespace as Note.
type Message struct {
	ID          string `gorm:"primarykey"`
	CreatedAt   time.Time
	URI         string `gorm:"index"`
	UserID      string `gorm:"index"`
	RecipientID string `gorm:"index"`
	Text        string
}

// Public key material bound to a single user, used to verify inbound
// signed requests. Cached copies are point-in-time snapshots.
type UserPublicKey struct {
	KeyID     string `gorm:"primarykey"`
	CreatedAt time.Time
	UserID    string `gorm:"uniqueindex"`
	KeyPem    string
}
