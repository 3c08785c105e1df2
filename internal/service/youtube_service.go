package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"
	youtubeAPI       = "https://youtube.googleapis.com/"
	// Resumable chunks must be multiples of 256 KiB.
	youtubeChunk = 32 * 256 << 10
)

type YoutubeService struct {
	api       apiClient
	oauth     *oauth2.Config
	media     MediaStore
	poll      PollConfig
	chunkSize int64
	uploadURL string
	endpoint  string
}

func NewYoutubeService(oauth *oauth2.Config, media MediaStore, client *http.Client, poll PollConfig) *YoutubeService {
	return &YoutubeService{
		api:       newAPIClient(models.ProviderYoutube, client),
		oauth:     oauth,
		media:     media,
		poll:      poll,
		chunkSize: youtubeChunk,
		uploadURL: youtubeUploadURL,
		endpoint:  youtubeAPI,
	}
}

func YoutubeOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.profile",
			youtube.YoutubeUploadScope,
			youtube.YoutubeReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}
}

func (s *YoutubeService) Name() models.Provider { return models.ProviderYoutube }

func (s *YoutubeService) Supports(kind models.ContentKind) bool {
	return kind == models.ContentKindVideo
}

func (s *YoutubeService) PublishText(context.Context, *PublishRequest) (string, error) {
	return "", fmt.Errorf("%w: youtube text", ErrUnsupportedContent)
}

func (s *YoutubeService) PublishImage(context.Context, *PublishRequest) (string, error) {
	return "", fmt.Errorf("%w: youtube image", ErrUnsupportedContent)
}

func (s *YoutubeService) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	client := oauth2.NewClient(oauthContext(ctx, s.api), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	return youtube.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(s.endpoint))
}

// PublishVideo uploads the video as private through a resumable session, waits
// for processing and then applies the requested privacy.
func (s *YoutubeService) PublishVideo(ctx context.Context, req *PublishRequest) (string, error) {
	video := req.Video()
	token := req.Credential.AccessToken

	sessionURL, err := s.startSession(ctx, req, video)
	if err != nil {
		return "", err
	}

	body, err := s.media.Open(ctx, video.Key)
	if err != nil {
		return "", atStage(StageMedia, err)
	}
	defer body.Close()

	var uploaded youtube.Video
	err = SplitChunks(body, video.Size, s.chunkSize, func(chunk Chunk) error {
		last := chunk.Offset+int64(len(chunk.Data)) == video.Size
		return s.putChunk(ctx, sessionURL, token, chunk, video.Size, last, &uploaded)
	})
	if err != nil {
		return "", atStage(StageAppend, err)
	}
	if uploaded.Id == "" {
		return "", atStage(StageFinalize, errors.New("upload finished without a video id"))
	}

	svc, err := s.service(ctx, token)
	if err != nil {
		return "", atStage(StagePoll, err)
	}

	err = pollUntilReady(ctx, s.poll, func(ctx context.Context) (PollState, error) {
		resp, err := svc.Videos.List([]string{"processingDetails", "status"}).Id(uploaded.Id).Context(ctx).Do()
		if err != nil {
			return PollFailed, s.googleError(StagePoll, err)
		}
		if len(resp.Items) == 0 {
			return PollPending, nil
		}
		item := resp.Items[0]
		if item.Status != nil {
			switch item.Status.UploadStatus {
			case "failed", "rejected", "deleted":
				return PollFailed, nil
			}
		}
		if item.ProcessingDetails == nil {
			return PollPending, nil
		}
		switch item.ProcessingDetails.ProcessingStatus {
		case "succeeded":
			return PollReady, nil
		case "failed", "terminated":
			return PollFailed, nil
		}
		return PollPending, nil
	})
	if err != nil {
		return "", atStage(StagePoll, err)
	}

	_, err = svc.Videos.Update([]string{"status"}, &youtube.Video{
		Id: uploaded.Id,
		Status: &youtube.VideoStatus{
			PrivacyStatus: req.Option("privacy", "public"),
			MadeForKids:   req.Option("made_for_kids", "false") == "true",
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", s.googleError(StageCreate, err)
	}

	return uploaded.Id, nil
}

// startSession opens a resumable upload and returns its session URL.
func (s *YoutubeService) startSession(ctx context.Context, req *PublishRequest, video *models.Media) (string, error) {
	meta := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncate(req.Title(), 100, ""),
			Description: req.Text(),
			CategoryId:  req.Option("category_id", "22"),
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "private"},
	}

	httpReq, err := newRequest(ctx, http.MethodPost, s.uploadURL, meta)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("X-Upload-Content-Length", strconv.FormatInt(video.Size, 10))
	httpReq.Header.Set("X-Upload-Content-Type", video.MimeType)

	header, err := s.api.send(bearer(httpReq, req.Credential.AccessToken), StageInit, nil)
	if err != nil {
		return "", err
	}
	location := header.Get("Location")
	if location == "" {
		return "", atStage(StageInit, errors.New("resumable session without Location"))
	}
	return location, nil
}

// putChunk sends one Content-Range slice. The server answers 308 until the
// final slice, which returns the video resource.
func (s *YoutubeService) putChunk(ctx context.Context, sessionURL, token string, chunk Chunk, total int64, last bool, out *youtube.Video) error {
	req, err := newRequest(ctx, http.MethodPut, sessionURL, chunk.Data)
	if err != nil {
		return err
	}
	end := chunk.Offset + int64(len(chunk.Data)) - 1
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", chunk.Offset, end, total))
	bearer(req, token)

	if !last {
		resp, err := s.api.http.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusPermanentRedirect && resp.StatusCode/100 != 2 {
			return &ProviderError{Provider: models.ProviderYoutube, Stage: StageAppend, StatusCode: resp.StatusCode}
		}
		if resp.StatusCode == http.StatusPermanentRedirect {
			if confirmed, ok := persistedEnd(resp.Header.Get("Range")); !ok || confirmed != end {
				return &ProviderError{
					Provider: models.ProviderYoutube, Stage: StageAppend, StatusCode: resp.StatusCode,
					Body: fmt.Sprintf("session holds %q, expected bytes=0-%d", resp.Header.Get("Range"), end),
				}
			}
		}
		return nil
	}

	_, err = s.api.send(req, StageFinalize, out)
	return err
}

// persistedEnd reads the last byte the session stored from a 308 Range
// header of the form "bytes=0-<end>".
func persistedEnd(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(header, "bytes=0-")
	if !ok {
		return 0, false
	}
	end, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return end, true
}

func (s *YoutubeService) googleError(stage Stage, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return &ProviderError{Provider: models.ProviderYoutube, Stage: stage, StatusCode: ge.Code, Body: ge.Message}
	}
	return atStage(stage, err)
}

func (s *YoutubeService) Refresh(ctx context.Context, c *models.Credential) (*transfer.RefreshedToken, error) {
	return refreshOAuth2(ctx, s.api, s.oauth, c)
}

func (s *YoutubeService) OAuthConfig() *oauth2.Config { return s.oauth }

func (s *YoutubeService) PKCE() bool { return true }

// Connect resolves the channel owned by the consenting Google account.
func (s *YoutubeService) Connect(ctx context.Context, token *oauth2.Token) ([]*models.Credential, error) {
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: google did not return a refresh token", ErrCredentialInvalid)
	}

	svc, err := s.service(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, s.googleError(StageAuth, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: account has no youtube channel", ErrCredentialInvalid)
	}

	channel := resp.Items[0]
	c := &models.Credential{
		Provider:          models.ProviderYoutube,
		ProviderAccountID: channel.Id,
		AccessToken:       token.AccessToken,
	}
	if channel.Snippet != nil {
		c.AccountName = channel.Snippet.Title
	}
	c.SetExpiry(token.Expiry)
	c.SetInfo(models.InfoRefreshToken, token.RefreshToken)
	return []*models.Credential{c}, nil
}
