package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockPostRepository struct {
	mock.Mock
}

func (m *MockPostRepository) CreateCollection(ctx context.Context, tx *sql.Tx, pc *models.PostCollection) (int64, error) {
	args := m.Called(ctx, tx, pc)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPostRepository) GetCollection(ctx context.Context, id int64) (*models.PostCollection, error) {
	args := m.Called(ctx, id)
	pc, _ := args.Get(0).(*models.PostCollection)
	return pc, args.Error(1)
}

func (m *MockPostRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	args := m.Called(ctx, tx, post)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPostRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Post)
	return p, args.Error(1)
}

func (m *MockPostRepository) ListByCollection(ctx context.Context, collectionID int64) ([]*models.Post, error) {
	args := m.Called(ctx, collectionID)
	posts, _ := args.Get(0).([]*models.Post)
	return posts, args.Error(1)
}

func (m *MockPostRepository) UpdatePostStatus(ctx context.Context, status models.PostStatus, postID int64) (bool, error) {
	args := m.Called(ctx, status, postID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPostRepository) RemoveCollection(ctx context.Context, collectionID int64) error {
	args := m.Called(ctx, collectionID)
	return args.Error(0)
}

type MockMediaRepository struct {
	mock.Mock
}

func (m *MockMediaRepository) Create(ctx context.Context, tx *sql.Tx, media *models.Media) (int64, error) {
	args := m.Called(ctx, tx, media)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMediaRepository) ListByCollection(ctx context.Context, collectionID int64) ([]*models.Media, error) {
	args := m.Called(ctx, collectionID)
	media, _ := args.Get(0).([]*models.Media)
	return media, args.Error(1)
}

type MockCredentialRepository struct {
	mock.Mock
}

func (m *MockCredentialRepository) Upsert(ctx context.Context, c *models.Credential) (int64, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCredentialRepository) GetByID(ctx context.Context, id int64) (*models.Credential, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*models.Credential)
	return c, args.Error(1)
}

func (m *MockCredentialRepository) ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Credential, error) {
	args := m.Called(ctx, before)
	cs, _ := args.Get(0).([]*models.Credential)
	return cs, args.Error(1)
}

func (m *MockCredentialRepository) SetToken(ctx context.Context, c *models.Credential) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCredentialRepository) MarkRefreshFailed(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCredentialRepository) Remove(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockPostingHistoryRepository struct {
	mock.Mock
}

func (m *MockPostingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	args := m.Called(ctx, ph)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPostingHistoryRepository) ListByPost(ctx context.Context, postID int64) ([]*models.PostingHistory, error) {
	args := m.Called(ctx, postID)
	phs, _ := args.Get(0).([]*models.PostingHistory)
	return phs, args.Error(1)
}
