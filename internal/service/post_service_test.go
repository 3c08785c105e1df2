package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository/mocks"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type postFixture struct {
	db      sqlmock.Sqlmock
	posts   *mocks.MockPostRepository
	media   *mocks.MockMediaRepository
	creds   *mocks.MockCredentialRepository
	history *mocks.MockPostingHistoryRepository
	pool    *memPool
	svc     PostService
}

func newPostFixture(t *testing.T) *postFixture {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &postFixture{
		db:      sqlMock,
		posts:   new(mocks.MockPostRepository),
		media:   new(mocks.MockMediaRepository),
		creds:   new(mocks.MockCredentialRepository),
		history: new(mocks.MockPostingHistoryRepository),
		pool:    newMemPool(),
	}
	f.svc = NewPostService(db, f.posts, f.media, f.creds, f.history, f.pool)
	return f
}

func (f *postFixture) ownCredentials(ids ...int64) {
	for _, id := range ids {
		f.creds.On("GetByID", mock.Anything, id).Return(&models.Credential{
			ID: id, UserID: 1, Provider: models.ProviderLinkedin, ProviderAccountID: "urn:li:person:x",
		}, nil)
	}
}

func imageSchedule(at time.Time) *transfer.ScheduleRequest {
	return &transfer.ScheduleRequest{
		UserID:        1,
		Description:   "Two photos",
		ContentKind:   "image",
		ScheduledTime: at,
		CredentialIDs: []int64{3, 4},
		Media: []transfer.MediaRef{
			{Key: "1/a.png", MimeType: "image/png", Size: 10},
			{Key: "1/b.jpg", MimeType: "image/jpeg", Size: 20},
		},
	}
}

func TestSchedule_PersistsAndPoolsEveryPost(t *testing.T) {
	f := newPostFixture(t)
	f.ownCredentials(3, 4)
	at := time.Date(2026, 11, 2, 9, 30, 0, 0, time.UTC)

	f.db.ExpectBegin()
	f.posts.On("CreateCollection", mock.Anything, mock.Anything, mock.MatchedBy(func(pc *models.PostCollection) bool {
		return pc.Kind == models.ContentKindImage && pc.ScheduledTime.Equal(at)
	})).Return(int64(10), nil)
	f.media.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*models.Media")).Return(int64(1), nil).Twice()
	f.posts.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(p *models.Post) bool { return p.CredentialID == 3 })).Return(int64(100), nil)
	f.posts.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(p *models.Post) bool { return p.CredentialID == 4 })).Return(int64(101), nil)
	f.db.ExpectCommit()

	id, err := f.svc.Schedule(context.Background(), imageSchedule(at))
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)

	for _, member := range []string{"100", "101"} {
		due, ok := f.pool.due(member)
		require.True(t, ok, member)
		assert.Equal(t, at.UnixMilli(), due)
	}
	assert.NoError(t, f.db.ExpectationsWereMet())

	media := f.media.Calls[1].Arguments.Get(2).(*models.Media)
	assert.Equal(t, 1, media.DisplayOrder)
	assert.Equal(t, int64(10), media.CollectionID)
}

func TestSchedule_RollsBackOnInsertFailure(t *testing.T) {
	f := newPostFixture(t)
	f.ownCredentials(3, 4)

	f.db.ExpectBegin()
	f.posts.On("CreateCollection", mock.Anything, mock.Anything, mock.Anything).Return(int64(10), nil)
	f.media.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))
	f.db.ExpectRollback()

	_, err := f.svc.Schedule(context.Background(), imageSchedule(time.Now().Add(time.Hour)))
	assert.Error(t, err)
	assert.NoError(t, f.db.ExpectationsWereMet())
	assert.Empty(t, f.pool.entries)
}

func TestSchedule_PoolFailureRemovesCollection(t *testing.T) {
	f := newPostFixture(t)
	f.ownCredentials(3, 4)
	f.pool.addErr = errors.New("redis down")

	f.db.ExpectBegin()
	f.posts.On("CreateCollection", mock.Anything, mock.Anything, mock.Anything).Return(int64(10), nil)
	f.media.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	f.posts.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(int64(100), nil)
	f.db.ExpectCommit()
	f.posts.On("RemoveCollection", mock.Anything, int64(10)).Return(nil)

	_, err := f.svc.Schedule(context.Background(), imageSchedule(time.Now().Add(time.Hour)))
	assert.Error(t, err)
	f.posts.AssertCalled(t, "RemoveCollection", mock.Anything, int64(10))
}

func TestSchedule_RejectsForeignCredential(t *testing.T) {
	f := newPostFixture(t)
	f.creds.On("GetByID", mock.Anything, int64(3)).Return(&models.Credential{ID: 3, UserID: 2}, nil)

	req := imageSchedule(time.Now())
	req.CredentialIDs = []int64{3}
	_, err := f.svc.Schedule(context.Background(), req)

	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.NoError(t, f.db.ExpectationsWereMet())
}

func TestSchedule_Validation(t *testing.T) {
	at := time.Now().Add(time.Hour)
	tests := []struct {
		name   string
		mutate func(r *transfer.ScheduleRequest)
	}{
		{"no accounts", func(r *transfer.ScheduleRequest) { r.CredentialIDs = nil }},
		{"duplicate account", func(r *transfer.ScheduleRequest) { r.CredentialIDs = []int64{3, 3} }},
		{"no time", func(r *transfer.ScheduleRequest) { r.ScheduledTime = time.Time{} }},
		{"unknown kind", func(r *transfer.ScheduleRequest) { r.ContentKind = "story" }},
		{"image without media", func(r *transfer.ScheduleRequest) { r.Media = nil }},
		{"video in image post", func(r *transfer.ScheduleRequest) { r.Media[0].MimeType = "video/mp4" }},
		{"two videos", func(r *transfer.ScheduleRequest) {
			r.ContentKind = "VIDEO"
			r.Media[0].MimeType, r.Media[1].MimeType = "video/mp4", "video/mp4"
		}},
		{"empty text", func(r *transfer.ScheduleRequest) { r.ContentKind, r.Description = "TEXT", "  " }},
		{"empty media", func(r *transfer.ScheduleRequest) { r.Media[1].Size = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPostFixture(t)
			req := imageSchedule(at)
			tt.mutate(req)

			_, err := f.svc.Schedule(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidPost)
			f.creds.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
		})
	}
}

func TestRemove_UnpoolsThenDeletes(t *testing.T) {
	f := newPostFixture(t)
	f.pool.entries["100"] = 1
	f.pool.entries["101"] = 1
	f.pool.entries["999"] = 1
	f.posts.On("GetCollection", mock.Anything, int64(10)).Return(&models.PostCollection{ID: 10, UserID: 1}, nil)
	f.posts.On("ListByCollection", mock.Anything, int64(10)).Return([]*models.Post{{ID: 100}, {ID: 101}}, nil)
	f.posts.On("RemoveCollection", mock.Anything, int64(10)).Return(nil)

	require.NoError(t, f.svc.Remove(context.Background(), 1, 10))

	assert.Equal(t, map[string]int64{"999": 1}, f.pool.entries)
	f.posts.AssertCalled(t, "RemoveCollection", mock.Anything, int64(10))
}

func TestRemove_OtherUsersCollection(t *testing.T) {
	f := newPostFixture(t)
	f.posts.On("GetCollection", mock.Anything, int64(10)).Return(&models.PostCollection{ID: 10, UserID: 2}, nil)

	assert.ErrorIs(t, f.svc.Remove(context.Background(), 1, 10), ErrInvalidPost)
	f.posts.AssertNotCalled(t, "RemoveCollection", mock.Anything, mock.Anything)
}
