package models

import (
	"encoding/json"
	"strings"
	"time"
)

type ContentKind string

const (
	ContentKindText  ContentKind = "TEXT"
	ContentKindImage ContentKind = "IMAGE"
	ContentKindVideo ContentKind = "VIDEO"
)

func (k ContentKind) Valid() bool {
	switch k {
	case ContentKindText, ContentKindImage, ContentKindVideo:
		return true
	}
	return false
}

type PostStatus string

// Status only moves forward from SCHEDULED to one terminal value.
const (
	PostStatusScheduled PostStatus = "SCHEDULED"
	PostStatusPosted    PostStatus = "POSTED"
	PostStatusFailed    PostStatus = "FAILED"
)

func (s PostStatus) Terminal() bool {
	return s == PostStatusPosted || s == PostStatusFailed
}

// PostCollection is what the user composed once. It owns its Posts (one per
// connected account) and its Media by id.
type PostCollection struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Title          string          `db:"title" json:"title"`
	Description    string          `db:"description" json:"description"`
	Kind           ContentKind     `db:"content_kind" json:"content_kind"`
	ScheduledTime  time.Time       `db:"scheduled_time" json:"scheduled_time"`
	PlatformConfig json.RawMessage `db:"platform_config" json:"platform_config,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

type Post struct {
	ID                int64       `db:"id" json:"id"`
	CollectionID      int64       `db:"collection_id" json:"collection_id"`
	CredentialID      int64       `db:"credential_id" json:"credential_id"`
	Provider          Provider    `db:"provider" json:"provider"`
	ProviderAccountID string      `db:"provider_account_id" json:"provider_account_id"`
	Kind              ContentKind `db:"content_kind" json:"content_kind"`
	Status            PostStatus  `db:"status" json:"status"`
	ScheduledTime     time.Time   `db:"scheduled_time" json:"scheduled_time"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

type Media struct {
	ID           int64     `db:"id" json:"id"`
	CollectionID int64     `db:"collection_id" json:"collection_id"`
	Key          string    `db:"object_key" json:"key"`
	MimeType     string    `db:"mime_type" json:"mime_type"`
	Size         int64     `db:"size" json:"size"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

func (m *Media) IsImage() bool {
	return strings.HasPrefix(m.MimeType, "image/")
}

func (m *Media) IsVideo() bool {
	return strings.HasPrefix(m.MimeType, "video/")
}
