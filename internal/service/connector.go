package service

import (
	"context"

	"github.com/maheshrc27/crosspost/internal/models"
	"golang.org/x/oauth2"
)

// Connector turns an OAuth 2.0 authorization grant into stored credentials.
type Connector interface {
	Name() models.Provider
	OAuthConfig() *oauth2.Config
	// PKCE reports whether the provider accepts a code verifier.
	PKCE() bool
	// Connect resolves the accounts reachable with token. UserID is left unset.
	Connect(ctx context.Context, token *oauth2.Token) ([]*models.Credential, error)
}

// oauthContext makes x/oauth2 use the provider's HTTP client.
func oauthContext(ctx context.Context, api apiClient) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, api.http)
}

func refreshTokenOf(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	return token.RefreshToken
}
