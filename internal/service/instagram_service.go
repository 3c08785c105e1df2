package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/instagram"
)

const (
	instagramGraph       = "https://graph.instagram.com"
	instagramAPI         = instagramGraph + "/v21.0"
	instagramCarouselMax = 10
	instagramCaptionMax  = 2200
)

type InstagramService struct {
	graph        graphClient
	tokens       graphClient
	clientSecret string
	oauth        *oauth2.Config
	media        MediaStore
	poll         PollConfig
}

func NewInstagramService(oauth *oauth2.Config, media MediaStore, client *http.Client, poll PollConfig) *InstagramService {
	api := newAPIClient(models.ProviderInstagram, client)
	return &InstagramService{
		graph:        graphClient{api: api, base: instagramAPI},
		tokens:       graphClient{api: api, base: instagramGraph},
		clientSecret: oauth.ClientSecret,
		oauth:        oauth,
		media:        media,
		poll:         poll,
	}
}

func InstagramOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"instagram_business_basic", "instagram_business_content_publish"},
		Endpoint:     instagram.Endpoint,
	}
}

func (s *InstagramService) Name() models.Provider { return models.ProviderInstagram }

func (s *InstagramService) Supports(kind models.ContentKind) bool {
	return kind == models.ContentKindImage || kind == models.ContentKindVideo
}

func (s *InstagramService) PublishText(context.Context, *PublishRequest) (string, error) {
	return "", fmt.Errorf("%w: instagram posts need media", ErrUnsupportedContent)
}

func (s *InstagramService) caption(req *PublishRequest) string {
	return truncate(req.Text(), instagramCaptionMax, "")
}

func (s *InstagramService) container(ctx context.Context, cred *models.Credential, params url.Values) (string, error) {
	var out transfer.InstagramContainer
	if err := s.graph.call(ctx, http.MethodPost, "/"+cred.ProviderAccountID+"/media", cred.AccessToken, params, StageInit, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (s *InstagramService) PublishImage(ctx context.Context, req *PublishRequest) (string, error) {
	cred := req.Credential
	if len(req.Media) > instagramCarouselMax {
		return "", fmt.Errorf("%w: instagram carousels hold at most %d items", ErrInvalidPost, instagramCarouselMax)
	}

	if len(req.Media) == 1 {
		imageURL, err := s.media.URL(ctx, req.Media[0].Key)
		if err != nil {
			return "", atStage(StageMedia, err)
		}
		id, err := s.container(ctx, cred, url.Values{"image_url": {imageURL}, "caption": {s.caption(req)}})
		if err != nil {
			return "", err
		}
		return s.publish(ctx, cred, id)
	}

	children := make([]string, 0, len(req.Media))
	for _, m := range req.Media {
		imageURL, err := s.media.URL(ctx, m.Key)
		if err != nil {
			return "", atStage(StageMedia, err)
		}
		id, err := s.container(ctx, cred, url.Values{"image_url": {imageURL}, "is_carousel_item": {"true"}})
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	id, err := s.container(ctx, cred, url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(children, ",")},
		"caption":    {s.caption(req)},
	})
	if err != nil {
		return "", err
	}
	return s.publish(ctx, cred, id)
}

// PublishVideo publishes a reel. Instagram pulls the file itself, so the
// upload phase is a single container creation followed by status polling.
func (s *InstagramService) PublishVideo(ctx context.Context, req *PublishRequest) (string, error) {
	cred := req.Credential
	videoURL, err := s.media.URL(ctx, req.Video().Key)
	if err != nil {
		return "", atStage(StageMedia, err)
	}

	id, err := s.container(ctx, cred, url.Values{
		"media_type":    {"REELS"},
		"video_url":     {videoURL},
		"caption":       {s.caption(req)},
		"share_to_feed": {req.Option("share_to_feed", "true")},
	})
	if err != nil {
		return "", err
	}

	err = pollUntilReady(ctx, s.poll, func(ctx context.Context) (PollState, error) {
		var status transfer.InstagramContainerStatus
		err := s.graph.call(ctx, http.MethodGet, "/"+id, cred.AccessToken, url.Values{"fields": {"status_code,status"}}, StagePoll, &status)
		if err != nil {
			return PollFailed, err
		}
		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return PollReady, nil
		case "ERROR", "EXPIRED":
			return PollFailed, nil
		}
		return PollPending, nil
	})
	if err != nil {
		return "", atStage(StagePoll, err)
	}

	return s.publish(ctx, cred, id)
}

func (s *InstagramService) publish(ctx context.Context, cred *models.Credential, containerID string) (string, error) {
	var out transfer.InstagramContainer
	err := s.graph.call(ctx, http.MethodPost, "/"+cred.ProviderAccountID+"/media_publish", cred.AccessToken,
		url.Values{"creation_id": {containerID}}, StageCreate, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// Refresh extends a long-lived token. Instagram issues no refresh token; the
// access token itself is exchanged.
func (s *InstagramService) Refresh(ctx context.Context, c *models.Credential) (*transfer.RefreshedToken, error) {
	var token transfer.InstagramToken
	err := s.tokens.call(ctx, http.MethodGet, "/refresh_access_token", c.AccessToken,
		url.Values{"grant_type": {"ig_refresh_token"}}, StageRefresh, &token)
	if err != nil {
		return nil, err
	}
	return &transfer.RefreshedToken{AccessToken: token.AccessToken, ExpiresAt: expiresIn(token.ExpiresIn)}, nil
}

func (s *InstagramService) OAuthConfig() *oauth2.Config { return s.oauth }

func (s *InstagramService) PKCE() bool { return false }

// Connect trades the short-lived login token for a long-lived one and reads
// the professional account it belongs to.
func (s *InstagramService) Connect(ctx context.Context, token *oauth2.Token) ([]*models.Credential, error) {
	var long transfer.InstagramToken
	err := s.tokens.call(ctx, http.MethodGet, "/access_token", token.AccessToken, url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {s.clientSecret},
	}, StageAuth, &long)
	if err != nil {
		return nil, err
	}

	var info transfer.InstagramUserInfo
	err = s.graph.call(ctx, http.MethodGet, "/me", long.AccessToken, url.Values{"fields": {"user_id,username,name"}}, StageAuth, &info)
	if err != nil {
		return nil, err
	}

	c := &models.Credential{
		Provider:          models.ProviderInstagram,
		ProviderAccountID: info.UserID,
		AccountName:       info.Username,
		AccessToken:       long.AccessToken,
	}
	c.SetExpiry(expiresIn(long.ExpiresIn))
	return []*models.Credential{c}, nil
}
