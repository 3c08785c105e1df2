package service

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const (
	twitterTweetsURL  = "https://api.twitter.com/2/tweets"
	twitterUploadURL  = "https://upload.twitter.com/1.1/media/upload.json"
	twitterVerifyURL  = "https://api.twitter.com/1.1/account/verify_credentials.json"
	twitterTextLimit  = 280
	twitterMaxImages  = 4
	twitterSegment    = 4 << 20
	twitterTokenValid = 30 * 24 * time.Hour
)

type TwitterService struct {
	api            apiClient
	consumerKey    string
	consumerSecret string
	media          MediaStore
	poll           PollConfig
	segmentSize    int64
}

func NewTwitterService(consumerKey, consumerSecret string, media MediaStore, client *http.Client, poll PollConfig) *TwitterService {
	return &TwitterService{
		api:            newAPIClient(models.ProviderX, client),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		media:          media,
		poll:           poll,
		segmentSize:    twitterSegment,
	}
}

func (s *TwitterService) Name() models.Provider { return models.ProviderX }

func (s *TwitterService) Supports(kind models.ContentKind) bool { return kind.Valid() }

func (s *TwitterService) signer(c *models.Credential) utils.OAuth1 {
	return utils.OAuth1{
		ConsumerKey:    s.consumerKey,
		ConsumerSecret: s.consumerSecret,
		Token:          c.AccessToken,
		TokenSecret:    c.Info(models.InfoTokenSecret),
	}
}

// sign sets the OAuth 1.0a header. params must hold the form fields of the
// body, if any; query parameters are read from the URL.
func (s *TwitterService) sign(req *http.Request, c *models.Credential, params url.Values) error {
	header, err := s.signer(c).Authorize(req.Method, req.URL.String(), params)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

func (s *TwitterService) PublishText(ctx context.Context, req *PublishRequest) (string, error) {
	return s.tweet(ctx, req, nil)
}

func (s *TwitterService) PublishImage(ctx context.Context, req *PublishRequest) (string, error) {
	if len(req.Media) > twitterMaxImages {
		return "", fmt.Errorf("%w: x allows at most %d images", ErrInvalidPost, twitterMaxImages)
	}
	ids := make([]string, 0, len(req.Media))
	for _, m := range req.Media {
		category := "tweet_image"
		if m.MimeType == "image/gif" {
			category = "tweet_gif"
		}
		id, err := s.upload(ctx, req.Credential, m, category)
		if err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	return s.tweet(ctx, req, ids)
}

func (s *TwitterService) PublishVideo(ctx context.Context, req *PublishRequest) (string, error) {
	id, err := s.upload(ctx, req.Credential, req.Video(), "tweet_video")
	if err != nil {
		return "", err
	}
	return s.tweet(ctx, req, []string{id})
}

func (s *TwitterService) tweet(ctx context.Context, req *PublishRequest, mediaIDs []string) (string, error) {
	payload := transfer.TweetCreate{Text: truncate(req.Text(), twitterTextLimit, "…")}
	if len(mediaIDs) > 0 {
		payload.Media = &transfer.TweetMedia{MediaIDs: mediaIDs}
	}

	httpReq, err := newRequest(ctx, http.MethodPost, twitterTweetsURL, payload)
	if err != nil {
		return "", err
	}
	if err := s.sign(httpReq, req.Credential, nil); err != nil {
		return "", atStage(StageAuth, err)
	}

	var created transfer.TweetCreated
	if _, err := s.api.send(httpReq, StageCreate, &created); err != nil {
		return "", err
	}
	return created.Data.ID, nil
}

func (s *TwitterService) command(ctx context.Context, c *models.Credential, stage Stage, form url.Values, out any) error {
	req, err := newRequest(ctx, http.MethodPost, twitterUploadURL, form)
	if err != nil {
		return err
	}
	if err := s.sign(req, c, form); err != nil {
		return atStage(StageAuth, err)
	}
	_, err = s.api.send(req, stage, out)
	return err
}

// upload runs INIT, APPEND per segment, FINALIZE and, when the provider asks
// for it, STATUS polling. It returns the media id.
func (s *TwitterService) upload(ctx context.Context, c *models.Credential, m *models.Media, category string) (string, error) {
	var init transfer.TwitterMedia
	err := s.command(ctx, c, StageInit, url.Values{
		"command":        {"INIT"},
		"total_bytes":    {strconv.FormatInt(m.Size, 10)},
		"media_type":     {m.MimeType},
		"media_category": {category},
	}, &init)
	if err != nil {
		return "", err
	}
	mediaID := init.MediaIDString

	body, err := s.media.Open(ctx, m.Key)
	if err != nil {
		return "", atStage(StageMedia, err)
	}
	defer body.Close()

	err = SplitChunks(body, m.Size, s.segmentSize, func(chunk Chunk) error {
		return s.appendSegment(ctx, c, mediaID, chunk)
	})
	if err != nil {
		return "", atStage(StageAppend, err)
	}

	var final transfer.TwitterMedia
	if err := s.command(ctx, c, StageFinalize, url.Values{"command": {"FINALIZE"}, "media_id": {mediaID}}, &final); err != nil {
		return "", err
	}
	if final.ProcessingInfo == nil {
		return mediaID, nil
	}

	err = pollUntilReady(ctx, s.poll, func(ctx context.Context) (PollState, error) {
		status, err := s.status(ctx, c, mediaID)
		if err != nil {
			return PollFailed, err
		}
		if status.ProcessingInfo == nil {
			return PollReady, nil
		}
		switch status.ProcessingInfo.State {
		case "succeeded":
			return PollReady, nil
		case "failed":
			return PollFailed, nil
		}
		return PollPending, nil
	})
	if err != nil {
		return "", atStage(StagePoll, err)
	}
	return mediaID, nil
}

func (s *TwitterService) appendSegment(ctx context.Context, c *models.Credential, mediaID string, chunk Chunk) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("command", "APPEND")
	_ = w.WriteField("media_id", mediaID)
	_ = w.WriteField("segment_index", strconv.Itoa(chunk.Index))
	part, err := w.CreateFormFile("media", "blob")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := newRequest(ctx, http.MethodPost, twitterUploadURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	// Multipart fields are not part of the signature base string.
	if err := s.sign(req, c, nil); err != nil {
		return atStage(StageAuth, err)
	}
	_, err = s.api.send(req, StageAppend, nil)
	return err
}

func (s *TwitterService) status(ctx context.Context, c *models.Credential, mediaID string) (*transfer.TwitterMedia, error) {
	q := url.Values{"command": {"STATUS"}, "media_id": {mediaID}}
	req, err := newRequest(ctx, http.MethodGet, twitterUploadURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if err := s.sign(req, c, nil); err != nil {
		return nil, atStage(StageAuth, err)
	}
	var out transfer.TwitterMedia
	if _, err := s.api.send(req, StagePoll, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh has no token grant to run: OAuth 1.0a user tokens do not expire. The
// credential is re-validated and its expiry pushed forward.
func (s *TwitterService) Refresh(ctx context.Context, c *models.Credential) (*transfer.RefreshedToken, error) {
	req, err := newRequest(ctx, http.MethodGet, twitterVerifyURL, nil)
	if err != nil {
		return nil, err
	}
	if err := s.sign(req, c, nil); err != nil {
		return nil, atStage(StageRefresh, err)
	}

	var user transfer.TwitterUser
	if _, err := s.api.send(req, StageRefresh, &user); err != nil {
		return nil, err
	}
	if user.IDStr != "" && c.ProviderAccountID != "" && user.IDStr != c.ProviderAccountID {
		return nil, fmt.Errorf("%w: token belongs to account %s", ErrCredentialInvalid, user.IDStr)
	}

	return &transfer.RefreshedToken{
		AccessToken: c.AccessToken,
		ExpiresAt:   time.Now().Add(twitterTokenValid),
	}, nil
}

// Identify resolves the account a pair of user tokens belongs to.
func (s *TwitterService) Identify(ctx context.Context, token, tokenSecret string) (*transfer.AccountIdentity, error) {
	c := &models.Credential{AccessToken: token, AdditionalInfo: map[string]string{models.InfoTokenSecret: tokenSecret}}
	req, err := newRequest(ctx, http.MethodGet, twitterVerifyURL, nil)
	if err != nil {
		return nil, err
	}
	if err := s.sign(req, c, nil); err != nil {
		return nil, err
	}

	var user transfer.TwitterUser
	if _, err := s.api.send(req, StageAuth, &user); err != nil {
		return nil, err
	}
	return &transfer.AccountIdentity{ID: user.IDStr, Name: user.ScreenName}, nil
}
