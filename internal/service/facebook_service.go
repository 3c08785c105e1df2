package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const (
	facebookAPI      = "https://graph.facebook.com/v21.0"
	facebookVideoAPI = "https://graph-video.facebook.com/v21.0"
)

// FacebookService publishes to pages. A credential's access token is the page
// token; the long-lived user token it was derived from is kept as the refresh
// token.
type FacebookService struct {
	graph graphClient
	video graphClient
	oauth *oauth2.Config
	media MediaStore
	poll  PollConfig
}

func NewFacebookService(oauth *oauth2.Config, media MediaStore, client *http.Client, poll PollConfig) *FacebookService {
	api := newAPIClient(models.ProviderFacebook, client)
	return &FacebookService{
		graph: graphClient{api: api, base: facebookAPI},
		video: graphClient{api: api, base: facebookVideoAPI},
		oauth: oauth,
		media: media,
		poll:  poll,
	}
}

func FacebookOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{"pages_show_list", "pages_manage_posts", "pages_read_engagement"},
		Endpoint:     facebook.Endpoint,
	}
}

func (s *FacebookService) Name() models.Provider { return models.ProviderFacebook }

func (s *FacebookService) Supports(kind models.ContentKind) bool { return kind.Valid() }

func (s *FacebookService) feed(ctx context.Context, cred *models.Credential, params url.Values) (string, error) {
	var out transfer.FacebookID
	if err := s.graph.call(ctx, http.MethodPost, "/"+cred.ProviderAccountID+"/feed", cred.AccessToken, params, StageCreate, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (s *FacebookService) PublishText(ctx context.Context, req *PublishRequest) (string, error) {
	return s.feed(ctx, req.Credential, url.Values{"message": {req.Text()}})
}

// PublishImage stages every photo unpublished, then attaches them all to one
// feed post.
func (s *FacebookService) PublishImage(ctx context.Context, req *PublishRequest) (string, error) {
	cred := req.Credential
	params := url.Values{"message": {req.Text()}}

	for i, m := range req.Media {
		photoURL, err := s.media.URL(ctx, m.Key)
		if err != nil {
			return "", atStage(StageMedia, err)
		}
		var photo transfer.FacebookID
		err = s.graph.call(ctx, http.MethodPost, "/"+cred.ProviderAccountID+"/photos", cred.AccessToken,
			url.Values{"url": {photoURL}, "published": {"false"}}, StageAppend, &photo)
		if err != nil {
			return "", err
		}
		attached, _ := json.Marshal(map[string]string{"media_fbid": photo.ID})
		params.Set(fmt.Sprintf("attached_media[%d]", i), string(attached))
	}

	return s.feed(ctx, cred, params)
}

// PublishVideo runs the resumable upload: start, transfer the byte ranges the
// server asks for, finish unpublished, wait for encoding, then publish.
func (s *FacebookService) PublishVideo(ctx context.Context, req *PublishRequest) (string, error) {
	cred := req.Credential
	video := req.Video()
	path := "/" + cred.ProviderAccountID + "/videos"

	var session transfer.FacebookVideoStart
	err := s.video.call(ctx, http.MethodPost, path, cred.AccessToken, url.Values{
		"upload_phase": {"start"},
		"file_size":    {strconv.FormatInt(video.Size, 10)},
	}, StageInit, &session)
	if err != nil {
		return "", err
	}

	body, err := s.media.Open(ctx, video.Key)
	if err != nil {
		return "", atStage(StageMedia, err)
	}
	defer body.Close()

	var sent int64
	start, end := session.StartOffset, session.EndOffset
	for start != end {
		from, err1 := strconv.ParseInt(start, 10, 64)
		to, err2 := strconv.ParseInt(end, 10, 64)
		if err1 != nil || err2 != nil || from != sent || to <= from || to > video.Size {
			return "", atStage(StageAppend, fmt.Errorf("unexpected transfer range %s-%s after %d bytes", start, end, sent))
		}
		data, err := readExactly(body, to-from)
		if err != nil {
			return "", atStage(StageAppend, err)
		}

		var next transfer.FacebookVideoTransfer
		if err := s.transfer(ctx, cred, path, session.UploadSessionID, from, data, &next); err != nil {
			return "", err
		}
		sent = to
		start, end = next.StartOffset, next.EndOffset
	}
	if sent != video.Size {
		return "", atStage(StageAppend, fmt.Errorf("%w: uploaded %d of %d bytes", ErrInvalidPost, sent, video.Size))
	}
	if err := expectEOF(body); err != nil {
		return "", atStage(StageAppend, err)
	}

	var finished transfer.FacebookSuccess
	err = s.video.call(ctx, http.MethodPost, path, cred.AccessToken, url.Values{
		"upload_phase":      {"finish"},
		"upload_session_id": {session.UploadSessionID},
		"title":             {req.Title()},
		"description":       {req.Text()},
		"published":         {"false"},
	}, StageFinalize, &finished)
	if err != nil {
		return "", err
	}
	if !finished.Success {
		return "", atStage(StageFinalize, fmt.Errorf("finish rejected for video %s", session.VideoID))
	}

	err = pollUntilReady(ctx, s.poll, func(ctx context.Context) (PollState, error) {
		var status transfer.FacebookVideoStatus
		err := s.graph.call(ctx, http.MethodGet, "/"+session.VideoID, cred.AccessToken, url.Values{"fields": {"status"}}, StagePoll, &status)
		if err != nil {
			return PollFailed, err
		}
		switch status.Status.VideoStatus {
		case "ready":
			return PollReady, nil
		case "error", "expired":
			return PollFailed, nil
		}
		return PollPending, nil
	})
	if err != nil {
		return "", atStage(StagePoll, err)
	}

	var published transfer.FacebookSuccess
	err = s.graph.call(ctx, http.MethodPost, "/"+session.VideoID, cred.AccessToken, url.Values{"published": {"true"}}, StageCreate, &published)
	if err != nil {
		return "", err
	}
	return session.VideoID, nil
}

func (s *FacebookService) transfer(ctx context.Context, cred *models.Credential, path, sessionID string, offset int64, data []byte, out *transfer.FacebookVideoTransfer) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("access_token", cred.AccessToken)
	_ = w.WriteField("upload_phase", "transfer")
	_ = w.WriteField("upload_session_id", sessionID)
	_ = w.WriteField("start_offset", strconv.FormatInt(offset, 10))
	part, err := w.CreateFormFile("video_file_chunk", "chunk")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := newRequest(ctx, http.MethodPost, s.video.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	_, err = s.video.api.send(req, StageAppend, out)
	return graphError(err)
}

// Refresh extends the stored user token and re-reads the page token from it.
func (s *FacebookService) Refresh(ctx context.Context, c *models.Credential) (*transfer.RefreshedToken, error) {
	userToken := c.Info(models.InfoRefreshToken)
	if userToken == "" {
		return nil, fmt.Errorf("%w: facebook credential %d has no user token", ErrCredentialInvalid, c.ID)
	}

	long, err := s.exchange(ctx, userToken, StageRefresh)
	if err != nil {
		return nil, err
	}

	var page transfer.FacebookPage
	err = s.graph.call(ctx, http.MethodGet, "/"+c.ProviderAccountID, long.AccessToken, url.Values{"fields": {"id,name,access_token"}}, StageRefresh, &page)
	if err != nil {
		return nil, err
	}

	return &transfer.RefreshedToken{
		AccessToken:  page.AccessToken,
		RefreshToken: long.AccessToken,
		ExpiresAt:    expiresIn(long.ExpiresIn),
	}, nil
}

func (s *FacebookService) exchange(ctx context.Context, userToken string, stage Stage) (*transfer.FacebookToken, error) {
	var long transfer.FacebookToken
	err := s.graph.call(ctx, http.MethodGet, "/oauth/access_token", "", url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {s.oauth.ClientID},
		"client_secret":     {s.oauth.ClientSecret},
		"fb_exchange_token": {userToken},
	}, stage, &long)
	if err != nil {
		return nil, err
	}
	return &long, nil
}

func (s *FacebookService) OAuthConfig() *oauth2.Config { return s.oauth }

func (s *FacebookService) PKCE() bool { return false }

// Connect returns one credential per page the user manages.
func (s *FacebookService) Connect(ctx context.Context, token *oauth2.Token) ([]*models.Credential, error) {
	long, err := s.exchange(ctx, token.AccessToken, StageAuth)
	if err != nil {
		return nil, err
	}

	var pages transfer.FacebookPages
	err = s.graph.call(ctx, http.MethodGet, "/me/accounts", long.AccessToken, url.Values{"fields": {"id,name,access_token"}}, StageAuth, &pages)
	if err != nil {
		return nil, err
	}
	if len(pages.Data) == 0 {
		return nil, fmt.Errorf("%w: no facebook pages granted", ErrCredentialInvalid)
	}

	credentials := make([]*models.Credential, 0, len(pages.Data))
	for _, page := range pages.Data {
		c := &models.Credential{
			Provider:          models.ProviderFacebook,
			ProviderAccountID: page.ID,
			AccountName:       page.Name,
			AccessToken:       page.AccessToken,
		}
		c.SetExpiry(expiresIn(long.ExpiresIn))
		c.SetInfo(models.InfoRefreshToken, long.AccessToken)
		credentials = append(credentials, c)
	}
	return credentials, nil
}
