package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/maheshrc27/crosspost/internal/cache"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const stateTTL = 10 * time.Minute

// XIdentifier resolves the account behind a pair of OAuth 1.0a user tokens.
type XIdentifier interface {
	Identify(ctx context.Context, token, tokenSecret string) (*transfer.AccountIdentity, error)
}

type OAuthService interface {
	// AuthURL starts a connect flow for userID and returns the consent URL.
	AuthURL(ctx context.Context, userID int64, provider models.Provider) (string, error)
	// Callback finishes the flow started by AuthURL and stores the credentials.
	Callback(ctx context.Context, state, code string) ([]*models.Credential, error)
	SaveXCredential(ctx context.Context, req *transfer.XCredentialRequest) (*models.Credential, error)
}

type oauthService struct {
	secretKey  string
	states     *cache.StateStore
	connectors map[models.Provider]Connector
	x          XIdentifier
	creds      repository.CredentialRepository
	refresh    RefreshService
	client     *http.Client
}

func NewOAuthService(
	secretKey string,
	states *cache.StateStore,
	creds repository.CredentialRepository,
	refresh RefreshService,
	x XIdentifier,
	client *http.Client,
	connectors ...Connector) OAuthService {
	byName := make(map[models.Provider]Connector, len(connectors))
	for _, c := range connectors {
		byName[c.Name()] = c
	}
	return &oauthService{
		secretKey:  secretKey,
		states:     states,
		connectors: byName,
		x:          x,
		creds:      creds,
		refresh:    refresh,
		client:     client,
	}
}

func (s *oauthService) AuthURL(ctx context.Context, userID int64, provider models.Provider) (string, error) {
	connector, ok := s.connectors[provider]
	if !ok {
		return "", fmt.Errorf("%w: cannot connect %q", ErrUnsupportedContent, provider)
	}
	if userID == 0 {
		return "", errors.New("user not found")
	}

	nonce, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	state, err := utils.GenerateState(s.secretKey, userID, string(provider), nonce, stateTTL)
	if err != nil {
		return "", err
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	pending := cache.AuthState{UserID: userID, Provider: string(provider)}
	if connector.PKCE() {
		pending.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.ApprovalForce, oauth2.S256ChallengeOption(pending.Verifier))
	}
	if err := s.states.Put(ctx, nonce, pending, stateTTL); err != nil {
		logrus.Error(err.Error())
		return "", err
	}

	return connector.OAuthConfig().AuthCodeURL(state, opts...), nil
}

func (s *oauthService) Callback(ctx context.Context, state, code string) ([]*models.Credential, error) {
	if code == "" || state == "" {
		err := errors.New("code or state is empty")
		logrus.Info(err.Error())
		return nil, err
	}

	claims, err := utils.ValidateState(s.secretKey, state)
	if err != nil {
		return nil, err
	}
	pending, err := s.states.Take(ctx, claims.Nonce)
	if err != nil {
		return nil, err
	}
	if pending == nil || pending.UserID != claims.UserID || pending.Provider != claims.Provider {
		return nil, fmt.Errorf("%w: state already used or expired", utils.ErrInvalidState)
	}

	provider := models.Provider(claims.Provider)
	connector, ok := s.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: cannot connect %q", ErrUnsupportedContent, provider)
	}

	if s.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	}
	var opts []oauth2.AuthCodeOption
	if pending.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(pending.Verifier))
	}
	token, err := connector.OAuthConfig().Exchange(ctx, code, opts...)
	if err != nil {
		logrus.WithError(err).WithField("provider", provider).Info("code exchange failed")
		return nil, tokenError(provider, err)
	}

	credentials, err := connector.Connect(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, c := range credentials {
		c.UserID = claims.UserID
		if err := s.store(ctx, c); err != nil {
			return nil, err
		}
	}
	return credentials, nil
}

// SaveXCredential stores user tokens obtained outside the redirect flow. They
// never expire, so a nominal expiry makes the refresh pool re-verify them.
func (s *oauthService) SaveXCredential(ctx context.Context, req *transfer.XCredentialRequest) (*models.Credential, error) {
	if req == nil || req.UserID == 0 || req.Token == "" || req.TokenSecret == "" {
		return nil, fmt.Errorf("%w: user, token and token secret are required", ErrCredentialInvalid)
	}

	identity, err := s.x.Identify(ctx, req.Token, req.TokenSecret)
	if err != nil {
		return nil, err
	}

	c := &models.Credential{
		UserID:            req.UserID,
		Provider:          models.ProviderX,
		ProviderAccountID: identity.ID,
		AccountName:       identity.Name,
		AccessToken:       req.Token,
	}
	c.SetInfo(models.InfoTokenSecret, req.TokenSecret)
	c.SetExpiry(time.Now().Add(twitterTokenValid))

	if err := s.store(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *oauthService) store(ctx context.Context, c *models.Credential) error {
	if _, err := s.creds.Upsert(ctx, c); err != nil {
		return err
	}
	if err := s.refresh.Arm(ctx, c); err != nil {
		logrus.WithError(err).WithField("credential_id", c.ID).Warn("could not arm credential for refresh")
	}
	return nil
}
