package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "crosspost:oauth:state:"

// AuthState is kept between the redirect to a provider and its callback.
type AuthState struct {
	UserID   int64  `json:"user_id"`
	Provider string `json:"provider"`
	Verifier string `json:"verifier"`
}

// StateStore holds PKCE verifiers for in-flight OAuth flows with a TTL.
type StateStore struct {
	client redis.UniversalClient
}

func NewStateStore(client redis.UniversalClient) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) Put(ctx context.Context, nonce string, value AuthState, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKeyPrefix+nonce, raw, ttl).Err()
}

// Take returns the state for nonce and deletes it, so a callback can only be
// completed once. A missing or expired nonce yields nil.
func (s *StateStore) Take(ctx context.Context, nonce string) (*AuthState, error) {
	raw, err := s.client.GetDel(ctx, stateKeyPrefix+nonce).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out AuthState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
