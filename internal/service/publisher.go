package service

import (
	"context"
	"encoding/json"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

// PublishRequest is one post with everything needed to send it.
type PublishRequest struct {
	Post       *models.Post
	Collection *models.PostCollection
	Media      []*models.Media
	Credential *models.Credential
}

func (r *PublishRequest) Text() string {
	return r.Collection.Description
}

func (r *PublishRequest) Title() string {
	if r.Collection.Title != "" {
		return r.Collection.Title
	}
	return truncate(r.Collection.Description, 100, "")
}

// Option reads a string setting for provider from the collection's platform config,
// shaped as {"<provider>": {"<key>": "<value>"}}.
func (r *PublishRequest) Option(key, fallback string) string {
	if len(r.Collection.PlatformConfig) == 0 {
		return fallback
	}
	var cfg map[string]map[string]string
	if err := json.Unmarshal(r.Collection.PlatformConfig, &cfg); err != nil {
		return fallback
	}
	if v := cfg[string(r.Post.Provider)][key]; v != "" {
		return v
	}
	return fallback
}

// Video returns the single video of a VIDEO post.
func (r *PublishRequest) Video() *models.Media {
	for _, m := range r.Media {
		if m.IsVideo() {
			return m
		}
	}
	return nil
}

// Publisher is one provider's set of content strategies. Each call returns the
// provider's id of the created post.
type Publisher interface {
	PublishText(ctx context.Context, req *PublishRequest) (string, error)
	PublishImage(ctx context.Context, req *PublishRequest) (string, error)
	PublishVideo(ctx context.Context, req *PublishRequest) (string, error)
}

// Refresher renews a provider credential. It does not persist anything.
type Refresher interface {
	Refresh(ctx context.Context, c *models.Credential) (*transfer.RefreshedToken, error)
}

// Provider is what every social network integration implements.
type Provider interface {
	Publisher
	Refresher
	Name() models.Provider
	// Supports reports whether kind can be published at all, checked before any network call.
	Supports(kind models.ContentKind) bool
}

func truncate(s string, limit int, ellipsis string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	keep := limit - len([]rune(ellipsis))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + ellipsis
}
