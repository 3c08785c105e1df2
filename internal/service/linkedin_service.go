package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/maheshrc27/crosspost/internal/cache"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"
)

const (
	linkedinAPI     = "https://api.linkedin.com"
	linkedinVersion = "202405"
)

type LinkedinService struct {
	api     apiClient
	oauth   *oauth2.Config
	media   MediaStore
	uploads *cache.UploadCache
	poll    PollConfig
}

func NewLinkedinService(oauth *oauth2.Config, media MediaStore, uploads *cache.UploadCache, client *http.Client, poll PollConfig) *LinkedinService {
	return &LinkedinService{
		api:     newAPIClient(models.ProviderLinkedin, client),
		oauth:   oauth,
		media:   media,
		uploads: uploads,
		poll:    poll,
	}
}

func LinkedinOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"openid", "profile", "w_member_social"},
		Endpoint:     linkedin.Endpoint,
	}
}

func (s *LinkedinService) Name() models.Provider { return models.ProviderLinkedin }

func (s *LinkedinService) Supports(kind models.ContentKind) bool { return kind.Valid() }

func (s *LinkedinService) request(ctx context.Context, method, path string, token string, payload any) (*http.Request, error) {
	req, err := newRequest(ctx, method, linkedinAPI+path, payload)
	if err != nil {
		return nil, err
	}
	bearer(req, token)
	req.Header.Set("LinkedIn-Version", linkedinVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	return req, nil
}

func (s *LinkedinService) post(req *PublishRequest, content map[string]any) map[string]any {
	body := map[string]any{
		"author":     req.Credential.ProviderAccountID,
		"commentary": req.Text(),
		"visibility": req.Option("visibility", "PUBLIC"),
		"distribution": map[string]any{
			"feedDistribution":               "MAIN_FEED",
			"targetEntities":                 []any{},
			"thirdPartyDistributionChannels": []any{},
		},
		"lifecycleState":            "PUBLISHED",
		"isReshareDisabledByAuthor": false,
	}
	if content != nil {
		body["content"] = content
	}
	return body
}

// createPost returns the new post urn from the x-restli-id header.
func (s *LinkedinService) createPost(ctx context.Context, req *PublishRequest, content map[string]any) (string, error) {
	httpReq, err := s.request(ctx, http.MethodPost, "/rest/posts", req.Credential.AccessToken, s.post(req, content))
	if err != nil {
		return "", err
	}
	header, err := s.api.send(httpReq, StageCreate, nil)
	if err != nil {
		return "", err
	}
	return header.Get("x-restli-id"), nil
}

func (s *LinkedinService) PublishText(ctx context.Context, req *PublishRequest) (string, error) {
	return s.createPost(ctx, req, nil)
}

func (s *LinkedinService) PublishImage(ctx context.Context, req *PublishRequest) (string, error) {
	images := make([]string, 0, len(req.Media))
	for _, m := range req.Media {
		urn, err := s.uploadImage(ctx, req.Credential, m)
		if err != nil {
			return "", err
		}
		images = append(images, urn)
	}

	if len(images) == 1 {
		return s.createPost(ctx, req, map[string]any{"media": map[string]any{"id": images[0]}})
	}

	entries := make([]map[string]any, len(images))
	for i, urn := range images {
		entries[i] = map[string]any{"id": urn}
	}
	return s.createPost(ctx, req, map[string]any{"multiImage": map[string]any{"images": entries}})
}

func (s *LinkedinService) uploadImage(ctx context.Context, cred *models.Credential, m *models.Media) (string, error) {
	if s.uploads != nil {
		if urn, ok, err := s.uploads.Get(ctx, string(models.ProviderLinkedin), cred.ProviderAccountID, m.Key); err == nil && ok {
			return urn, nil
		}
	}

	initReq, err := s.request(ctx, http.MethodPost, "/rest/images?action=initializeUpload", cred.AccessToken, map[string]any{
		"initializeUploadRequest": map[string]any{"owner": cred.ProviderAccountID},
	})
	if err != nil {
		return "", err
	}
	var slot transfer.LinkedinInitializeImage
	if _, err := s.api.send(initReq, StageInit, &slot); err != nil {
		return "", err
	}

	body, err := s.media.Open(ctx, m.Key)
	if err != nil {
		return "", atStage(StageMedia, err)
	}
	defer body.Close()
	data, err := readExactly(body, m.Size)
	if err != nil {
		return "", atStage(StageMedia, err)
	}

	putReq, err := newRequest(ctx, http.MethodPut, slot.Value.UploadURL, data)
	if err != nil {
		return "", err
	}
	if _, err := s.api.send(bearer(putReq, cred.AccessToken), StageAppend, nil); err != nil {
		return "", err
	}

	if s.uploads != nil {
		_ = s.uploads.Set(ctx, string(models.ProviderLinkedin), cred.ProviderAccountID, m.Key, slot.Value.Image)
	}
	return slot.Value.Image, nil
}

func (s *LinkedinService) PublishVideo(ctx context.Context, req *PublishRequest) (string, error) {
	video := req.Video()
	cred := req.Credential

	initReq, err := s.request(ctx, http.MethodPost, "/rest/videos?action=initializeUpload", cred.AccessToken, map[string]any{
		"initializeUploadRequest": map[string]any{
			"owner":           cred.ProviderAccountID,
			"fileSizeBytes":   video.Size,
			"uploadCaptions":  false,
			"uploadThumbnail": false,
		},
	})
	if err != nil {
		return "", err
	}
	var session transfer.LinkedinInitializeVideo
	if _, err := s.api.send(initReq, StageInit, &session); err != nil {
		return "", err
	}

	body, err := s.media.Open(ctx, video.Key)
	if err != nil {
		return "", atStage(StageMedia, err)
	}
	defer body.Close()

	// Instructions cover the file in ascending, contiguous byte ranges.
	var uploaded int64
	partIDs := make([]string, 0, len(session.Value.UploadInstructions))
	for _, ins := range session.Value.UploadInstructions {
		if ins.FirstByte != uploaded {
			return "", atStage(StageAppend, fmt.Errorf("upload instruction starts at %d, expected %d", ins.FirstByte, uploaded))
		}
		part, err := readExactly(body, ins.LastByte-ins.FirstByte+1)
		if err != nil {
			return "", atStage(StageAppend, err)
		}

		putReq, err := newRequest(ctx, http.MethodPut, ins.UploadURL, part)
		if err != nil {
			return "", err
		}
		header, err := s.api.send(bearer(putReq, cred.AccessToken), StageAppend, nil)
		if err != nil {
			return "", err
		}
		partIDs = append(partIDs, header.Get("ETag"))
		uploaded += int64(len(part))
	}
	if uploaded != video.Size {
		return "", atStage(StageAppend, fmt.Errorf("%w: uploaded %d of %d bytes", ErrInvalidPost, uploaded, video.Size))
	}

	finReq, err := s.request(ctx, http.MethodPost, "/rest/videos?action=finalizeUpload", cred.AccessToken, map[string]any{
		"finalizeUploadRequest": map[string]any{
			"video":           session.Value.Video,
			"uploadToken":     session.Value.UploadToken,
			"uploadedPartIds": partIDs,
		},
	})
	if err != nil {
		return "", err
	}
	if _, err := s.api.send(finReq, StageFinalize, nil); err != nil {
		return "", err
	}

	err = pollUntilReady(ctx, s.poll, func(ctx context.Context) (PollState, error) {
		statusReq, err := s.request(ctx, http.MethodGet, "/rest/videos/"+url.PathEscape(session.Value.Video), cred.AccessToken, nil)
		if err != nil {
			return PollFailed, err
		}
		var status transfer.LinkedinVideoStatus
		if _, err := s.api.send(statusReq, StagePoll, &status); err != nil {
			return PollFailed, err
		}
		switch strings.ToUpper(status.Status) {
		case "AVAILABLE":
			return PollReady, nil
		case "PROCESSING_FAILED":
			return PollFailed, nil
		}
		return PollPending, nil
	})
	if err != nil {
		return "", atStage(StagePoll, err)
	}

	return s.createPost(ctx, req, map[string]any{
		"media": map[string]any{"title": req.Title(), "id": session.Value.Video},
	})
}

func (s *LinkedinService) Refresh(ctx context.Context, c *models.Credential) (*transfer.RefreshedToken, error) {
	return refreshOAuth2(ctx, s.api, s.oauth, c)
}

func (s *LinkedinService) OAuthConfig() *oauth2.Config { return s.oauth }

func (s *LinkedinService) PKCE() bool { return false }

// Connect identifies the member through the OpenID userinfo endpoint. Posts
// are authored as urn:li:person:<sub>.
func (s *LinkedinService) Connect(ctx context.Context, token *oauth2.Token) ([]*models.Credential, error) {
	req, err := newRequest(ctx, http.MethodGet, linkedinAPI+"/v2/userinfo", nil)
	if err != nil {
		return nil, err
	}
	var info transfer.LinkedinUserInfo
	if _, err := s.api.send(bearer(req, token.AccessToken), StageAuth, &info); err != nil {
		return nil, err
	}

	urn := "urn:li:person:" + info.Sub
	c := &models.Credential{
		Provider:          models.ProviderLinkedin,
		ProviderAccountID: urn,
		AccountName:       info.Name,
		AccessToken:       token.AccessToken,
	}
	c.SetExpiry(token.Expiry)
	c.SetInfo(models.InfoPersonURN, urn)
	if rt := refreshTokenOf(token); rt != "" {
		c.SetInfo(models.InfoRefreshToken, rt)
	}
	return []*models.Credential{c}, nil
}
