package models

import "time"

type Provider string

const (
	ProviderLinkedin  Provider = "linkedin"
	ProviderX         Provider = "x"
	ProviderYoutube   Provider = "youtube"
	ProviderInstagram Provider = "instagram"
	ProviderFacebook  Provider = "facebook"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderLinkedin, ProviderX, ProviderYoutube, ProviderInstagram, ProviderFacebook:
		return true
	}
	return false
}

// Keys of Credential.AdditionalInfo.
const (
	InfoRefreshToken = "refresh_token"
	InfoTokenSecret  = "token_secret"
	InfoPersonURN    = "person_urn"
	InfoPageToken    = "page_token"
	InfoScope        = "scope"
)

// Credential is one connected provider account. AccessToken and the secret
// entries of AdditionalInfo are held decrypted in memory and encrypted at rest.
type Credential struct {
	ID                int64             `db:"id" json:"id"`
	UserID            int64             `db:"user_id" json:"user_id"`
	Provider          Provider          `db:"provider" json:"provider"`
	ProviderAccountID string            `db:"provider_account_id" json:"provider_account_id"`
	AccountName       string            `db:"account_name" json:"account_name"`
	AccessToken       string            `db:"access_token" json:"-"`
	ExpiresAtMillis   int64             `db:"expires_at_ms" json:"expires_at_ms"`
	ExpiresAt         time.Time         `db:"expires_at" json:"expires_at"`
	AdditionalInfo    map[string]string `db:"additional_info" json:"-"`
	// Version guards read-modify-write token updates.
	Version int64 `db:"version" json:"-"`
	// RefreshFailedAt is set once scheduled refresh gave up. The account has
	// to be reconnected before it is scheduled for refresh again.
	RefreshFailedAt *time.Time `db:"refresh_failed_at" json:"refresh_failed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (c *Credential) Info(key string) string {
	if c.AdditionalInfo == nil {
		return ""
	}
	return c.AdditionalInfo[key]
}

func (c *Credential) SetInfo(key, value string) {
	if c.AdditionalInfo == nil {
		c.AdditionalInfo = map[string]string{}
	}
	c.AdditionalInfo[key] = value
}

// SetExpiry keeps the millisecond and UTC forms in step. A zero t means the
// token does not expire.
func (c *Credential) SetExpiry(t time.Time) {
	if t.IsZero() {
		c.ExpiresAt, c.ExpiresAtMillis = time.Time{}, 0
		return
	}
	c.ExpiresAt = t.UTC()
	c.ExpiresAtMillis = t.UnixMilli()
}

func (c *Credential) Expiry() time.Time {
	if c.ExpiresAtMillis != 0 {
		return time.UnixMilli(c.ExpiresAtMillis).UTC()
	}
	return c.ExpiresAt
}

func (c *Credential) NeedsReauth() bool {
	return c.RefreshFailedAt != nil
}
