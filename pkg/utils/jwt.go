package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

var ErrInvalidState = errors.New("invalid oauth state")

// GenerateState signs the OAuth state parameter carried through a provider's
// consent screen so the callback can recover who started the flow.
func GenerateState(secretKey string, userID int64, provider, nonce string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := transfer.StateClaims{
		UserID:   userID,
		Provider: provider,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "crosspost",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

func ValidateState(secretKey, state string) (*transfer.StateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &transfer.StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidState, err)
	}

	if claims, ok := token.Claims.(*transfer.StateClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidState
}
