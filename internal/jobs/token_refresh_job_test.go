package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/maheshrc27/crosspost/internal/repository/mocks"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func credentialExpiringAt(id int64, at time.Time) *models.Credential {
	c := &models.Credential{ID: id, Provider: models.ProviderLinkedin}
	c.SetExpiry(at)
	return c
}

func newTestJob(t *testing.T) (*TokenRefreshJob, *mocks.MockCredentialRepository, *pool.Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cr := new(mocks.MockCredentialRepository)
	p := pool.New(rdb, pool.CredentialsKey)
	j := NewTokenRefreshJob(cr, p, 24*time.Hour)
	j.now = func() time.Time { return fixedNow }
	return j, cr, p
}

func TestReconcile_ArmsMissingCredentials(t *testing.T) {
	j, cr, p := newTestJob(t)
	ctx := context.Background()

	cr.On("ListExpiringBefore", mock.Anything, fixedNow.Add(24*time.Hour)).Return([]*models.Credential{
		credentialExpiringAt(1, fixedNow.Add(-time.Hour)),
		credentialExpiringAt(2, fixedNow.Add(20*time.Hour)),
		credentialExpiringAt(3, fixedNow.Add(10*time.Hour)),
	}, nil)

	// 3 is already pending and keeps its score
	require.NoError(t, p.Add(ctx, "3", 42))

	armed, err := j.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, armed)

	for _, id := range []string{"1", "2"} {
		score, pending, err := p.Score(ctx, id)
		require.NoError(t, err)
		assert.True(t, pending)
		assert.Equal(t, fixedNow.UnixMilli(), score, id)
	}

	score, _, err := p.Score(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, int64(42), score)
	cr.AssertExpectations(t)
}

func TestReconcile_RepositoryError(t *testing.T) {
	j, cr, p := newTestJob(t)

	cr.On("ListExpiringBefore", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := j.Reconcile(context.Background())
	assert.Error(t, err)

	n, err := p.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcile_SkipsExhaustedCredentials(t *testing.T) {
	j, cr, p := newTestJob(t)
	ctx := context.Background()

	failedAt := fixedNow.Add(-10 * time.Minute)
	exhausted := credentialExpiringAt(1, fixedNow.Add(-time.Hour))
	exhausted.RefreshFailedAt = &failedAt

	cr.On("ListExpiringBefore", mock.Anything, mock.Anything).Return([]*models.Credential{
		exhausted,
		credentialExpiringAt(2, fixedNow.Add(time.Hour)),
	}, nil).Twice()

	for range 2 {
		armed, err := j.Reconcile(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, armed)

		_, pending, err := p.Score(ctx, "1")
		require.NoError(t, err)
		assert.False(t, pending)

		// the scanner claims whatever was armed
		require.NoError(t, p.Remove(ctx, "2"))
	}
	cr.AssertExpectations(t)
}
