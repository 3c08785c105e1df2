package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/oauth2"
)

var fastPoll = PollConfig{Interval: time.Millisecond, Attempts: 3}

func mockedClient() (*http.Client, *httpmock.MockTransport) {
	transport := httpmock.NewMockTransport()
	return &http.Client{Transport: transport}, transport
}

// memStore is an in-memory MediaStore.
type memStore struct {
	objects map[string][]byte
}

func newMemStore(objects map[string][]byte) *memStore {
	return &memStore{objects: objects}
}

func (m *memStore) URL(_ context.Context, key string) (string, error) {
	if _, ok := m.objects[key]; !ok {
		return "", errors.New("no such key")
	}
	return "https://media.test/" + key, nil
}

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Upload(_ context.Context, _ int64, file []byte) (*transfer.MediaRef, error) {
	key := "upload/" + time.Now().Format("150405.000000")
	m.objects[key] = file
	return &transfer.MediaRef{Key: key, MimeType: "application/octet-stream", Size: int64(len(file))}, nil
}

// memPool records the last due time of every id.
type memPool struct {
	mu      sync.Mutex
	entries map[string]int64
	addErr  error
}

func newMemPool() *memPool {
	return &memPool{entries: map[string]int64{}}
}

func (p *memPool) Add(_ context.Context, id string, dueMillis int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	p.entries[id] = dueMillis
	return nil
}

func (p *memPool) Remove(_ context.Context, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.entries, id)
	}
	return nil
}

func (p *memPool) due(id string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.entries[id]
	return v, ok
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// passthroughRefresh hands credentials back untouched.
type passthroughRefresh struct{ err error }

func (p passthroughRefresh) GetValid(_ context.Context, c *models.Credential) (*models.Credential, error) {
	if p.err != nil {
		return nil, p.err
	}
	return c, nil
}

func (passthroughRefresh) RefreshMany(context.Context, []int64) []RefreshOutcome { return nil }

func (passthroughRefresh) Arm(context.Context, *models.Credential) error { return nil }

func linkedinCredential() *models.Credential {
	c := &models.Credential{
		ID:                3,
		UserID:            1,
		Provider:          models.ProviderLinkedin,
		ProviderAccountID: "urn:li:person:abc",
		AccessToken:       "li-token",
	}
	c.SetExpiry(time.Now().Add(60 * 24 * time.Hour))
	return c
}

func publishRequest(provider models.Provider, kind models.ContentKind, cred *models.Credential, media ...*models.Media) *PublishRequest {
	return &PublishRequest{
		Post: &models.Post{
			ID: 42, CollectionID: 10, CredentialID: cred.ID, Provider: provider,
			ProviderAccountID: cred.ProviderAccountID, Kind: kind, Status: models.PostStatusScheduled,
		},
		Collection: &models.PostCollection{
			ID: 10, UserID: cred.UserID, Title: "Launch day", Description: "We shipped the thing", Kind: kind,
		},
		Media:      media,
		Credential: cred,
	}
}

func oauthToken(access string) *oauth2.Token {
	return &oauth2.Token{AccessToken: access}
}
