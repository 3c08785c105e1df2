package transfer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type StateClaims struct {
	UserID   int64  `json:"uid"`
	Provider string `json:"provider"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// AccountIdentity is what a provider reports about the account that granted consent.
type AccountIdentity struct {
	ID   string
	Name string
	// Extra is merged into the credential's additional info.
	Extra map[string]string
}

type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// XCredentialRequest carries OAuth 1.0a user tokens obtained out of band.
type XCredentialRequest struct {
	UserID      int64  `json:"user_id"`
	Token       string `json:"token"`
	TokenSecret string `json:"token_secret"`
}
