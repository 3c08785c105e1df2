package models

import "time"

type PostingHistory struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	PostID         int64     `db:"post_id" json:"post_id"`
	CredentialID   int64     `db:"credential_id" json:"credential_id"`
	Status         string    `db:"status" json:"status"`
	Stage          string    `db:"stage" json:"stage"`
	ErrorMessage   string    `db:"error_message" json:"error_message"`
	ReauthRequired bool      `db:"reauth_required" json:"reauth_required"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
