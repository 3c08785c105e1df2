package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/oauth2"
)

// refreshOAuth2 runs a refresh_token grant against conf's token endpoint using
// the provider's HTTP client.
func refreshOAuth2(ctx context.Context, api apiClient, conf *oauth2.Config, c *models.Credential) (*transfer.RefreshedToken, error) {
	refreshToken := c.Info(models.InfoRefreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: %s credential %d has no refresh token", ErrCredentialInvalid, c.Provider, c.ID)
	}

	token, err := conf.TokenSource(oauthContext(ctx, api), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, tokenError(api.provider, err)
	}

	return &transfer.RefreshedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func tokenError(provider models.Provider, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return atStage(StageRefresh, err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	pe := &ProviderError{Provider: provider, Stage: StageRefresh, StatusCode: status, Body: string(re.Body)}
	if re.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%w: %w", ErrCredentialInvalid, pe)
	}
	return pe
}

// expiresIn converts a relative lifetime in seconds to an absolute instant.
func expiresIn(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
