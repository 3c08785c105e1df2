package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/repository/mocks"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testRefreshConfig() config.Refresh {
	return config.Refresh{SafetyWindow: 24 * time.Hour, MaxAttempts: 10, RetryDelay: 0}
}

// flakyRefresher fails each credential a set number of times before
// succeeding; a negative count fails forever.
type flakyRefresher struct {
	mu       sync.Mutex
	failures map[int64]int
	attempts map[int64]int
	last     map[int64]time.Time
	expiry   time.Time
}

func newFlakyRefresher(failures map[int64]int) *flakyRefresher {
	return &flakyRefresher{failures: failures, attempts: map[int64]int{}, last: map[int64]time.Time{}, expiry: time.Now().Add(60 * 24 * time.Hour)}
}

func (r *flakyRefresher) Refresh(_ context.Context, c *models.Credential) (*transfer.RefreshedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[c.ID]++
	r.last[c.ID] = time.Now()
	if n := r.failures[c.ID]; n < 0 || r.attempts[c.ID] <= n {
		return nil, errors.New("provider unavailable")
	}
	return &transfer.RefreshedToken{AccessToken: "fresh-" + strconv.FormatInt(c.ID, 10), RefreshToken: "rt2", ExpiresAt: r.expiry}, nil
}

func (r *flakyRefresher) lastAttempt(id int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[id]
}

func (r *flakyRefresher) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[id]
}

func expiringCredential(id int64, expiry time.Time) *models.Credential {
	c := &models.Credential{
		ID: id, UserID: 1, Provider: models.ProviderLinkedin, ProviderAccountID: "urn:li:person:" + strconv.FormatInt(id, 10),
		AccessToken: "old", AdditionalInfo: map[string]string{models.InfoRefreshToken: "rt1"}, Version: 1,
	}
	c.SetExpiry(expiry)
	return c
}

func newTestRefreshService(creds *mocks.MockCredentialRepository, r Refresher, pool RefreshPool, n Notifier) *refreshService {
	return NewRefreshService(creds, map[models.Provider]Refresher{models.ProviderLinkedin: r}, pool, n, testRefreshConfig()).(*refreshService)
}

func TestGetValid_OutsideWindowIsUntouched(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	refresher := newFlakyRefresher(nil)
	svc := newTestRefreshService(creds, refresher, newMemPool(), &recordingNotifier{})

	c := expiringCredential(1, time.Now().Add(48*time.Hour))
	got, err := svc.GetValid(context.Background(), c)

	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Zero(t, refresher.count(1))
}

func TestGetValid_InsideWindowRefreshesAndRearms(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	creds.On("SetToken", mock.Anything, mock.AnythingOfType("*models.Credential")).Return(nil)
	refresher := newFlakyRefresher(nil)
	pool := newMemPool()
	svc := newTestRefreshService(creds, refresher, pool, &recordingNotifier{})
	now := time.Now()
	svc.now = func() time.Time { return now }

	c := expiringCredential(1, now.Add(2*time.Hour))
	got, err := svc.GetValid(context.Background(), c)

	require.NoError(t, err)
	assert.Equal(t, "fresh-1", got.AccessToken)
	assert.Equal(t, "rt2", got.Info(models.InfoRefreshToken))
	assert.Equal(t, "old", c.AccessToken)
	assert.Equal(t, 1, refresher.count(1))

	due, ok := pool.due("1")
	require.True(t, ok)
	assert.Equal(t, refresher.expiry.Add(-24*time.Hour).UnixMilli(), due)
}

func TestGetValid_FailedRefreshKeepsUnexpiredToken(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	svc := newTestRefreshService(creds, newFlakyRefresher(map[int64]int{1: -1}), newMemPool(), &recordingNotifier{})

	c := expiringCredential(1, time.Now().Add(time.Hour))
	got, err := svc.GetValid(context.Background(), c)

	require.NoError(t, err)
	assert.Equal(t, "old", got.AccessToken)
}

func TestGetValid_FailedRefreshOfExpiredToken(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	svc := newTestRefreshService(creds, newFlakyRefresher(map[int64]int{1: -1}), newMemPool(), &recordingNotifier{})

	_, err := svc.GetValid(context.Background(), expiringCredential(1, time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrCredentialInvalid)
}

func TestGetValid_LosingTheRaceReturnsStoredToken(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	creds.On("SetToken", mock.Anything, mock.Anything).Return(repository.ErrStaleCredential)
	stored := expiringCredential(1, time.Now().Add(30*24*time.Hour))
	stored.AccessToken = "refreshed-elsewhere"
	creds.On("GetByID", mock.Anything, int64(1)).Return(stored, nil)
	svc := newTestRefreshService(creds, newFlakyRefresher(nil), newMemPool(), &recordingNotifier{})

	got, err := svc.GetValid(context.Background(), expiringCredential(1, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "refreshed-elsewhere", got.AccessToken)
}

func TestRefreshMany_SucceedsAfterTransientFailures(t *testing.T) {
	for _, k := range []int{0, 1, 4, 9} {
		t.Run(strconv.Itoa(k), func(t *testing.T) {
			creds := new(mocks.MockCredentialRepository)
			creds.On("GetByID", mock.Anything, int64(1)).Return(expiringCredential(1, time.Now().Add(time.Hour)), nil)
			creds.On("SetToken", mock.Anything, mock.Anything).Return(nil)
			refresher := newFlakyRefresher(map[int64]int{1: k})
			notifier := &recordingNotifier{}
			svc := newTestRefreshService(creds, refresher, newMemPool(), notifier)

			outcomes := svc.RefreshMany(context.Background(), []int64{1})

			require.Len(t, outcomes, 1)
			assert.True(t, outcomes[0].OK())
			assert.Equal(t, k+1, outcomes[0].Attempts)
			assert.Equal(t, k+1, refresher.count(1))
			assert.Zero(t, notifier.count())
		})
	}
}

func TestRefreshMany_GivesUpAfterMaxAttempts(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	creds.On("GetByID", mock.Anything, int64(1)).Return(expiringCredential(1, time.Now().Add(time.Hour)), nil)
	creds.On("MarkRefreshFailed", mock.Anything, int64(1)).Return(nil).Once()
	refresher := newFlakyRefresher(map[int64]int{1: -1})
	notifier := &recordingNotifier{}
	svc := newTestRefreshService(creds, refresher, newMemPool(), notifier)

	outcomes := svc.RefreshMany(context.Background(), []int64{1})

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK())
	assert.Equal(t, 10, outcomes[0].Attempts)
	assert.Equal(t, 10, refresher.count(1))
	assert.Equal(t, 1, notifier.count())
	creds.AssertNotCalled(t, "SetToken", mock.Anything, mock.Anything)
	creds.AssertExpectations(t)
}

func TestRefreshMany_CancelledBatchIsNotFlagged(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	creds.On("GetByID", mock.Anything, int64(1)).Return(expiringCredential(1, time.Now().Add(time.Hour)), nil)
	notifier := &recordingNotifier{}
	svc := newTestRefreshService(creds, newFlakyRefresher(map[int64]int{1: -1}), newMemPool(), notifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := svc.RefreshMany(ctx, []int64{1})

	assert.False(t, outcomes[0].OK())
	assert.Zero(t, notifier.count())
	creds.AssertNotCalled(t, "MarkRefreshFailed", mock.Anything, mock.Anything)
}

// Five credentials refreshed together, two of which never succeed.
func TestRefreshMany_MixedBatch(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	for id := int64(1); id <= 5; id++ {
		creds.On("GetByID", mock.Anything, id).Return(expiringCredential(id, time.Now().Add(time.Hour)), nil)
	}
	creds.On("SetToken", mock.Anything, mock.Anything).Return(nil)
	creds.On("MarkRefreshFailed", mock.Anything, int64(2)).Return(nil).Once()
	creds.On("MarkRefreshFailed", mock.Anything, int64(4)).Return(nil).Once()
	refresher := newFlakyRefresher(map[int64]int{2: -1, 4: -1, 5: 3})
	notifier := &recordingNotifier{}
	pool := newMemPool()
	svc := newTestRefreshService(creds, refresher, pool, notifier)
	svc.cfg.RetryDelay = 20 * time.Millisecond

	outcomes := svc.RefreshMany(context.Background(), []int64{1, 2, 3, 4, 5})

	require.Len(t, outcomes, 5)
	var ok, failed []int64
	for i, o := range outcomes {
		assert.Equal(t, int64(i+1), o.CredentialID)
		if o.OK() {
			ok = append(ok, o.CredentialID)
		} else {
			failed = append(failed, o.CredentialID)
			assert.Equal(t, 10, o.Attempts)
		}
	}
	assert.Equal(t, []int64{1, 3, 5}, ok)
	assert.Equal(t, []int64{2, 4}, failed)
	assert.Equal(t, 2, notifier.count())

	for _, id := range []string{"1", "3", "5"} {
		_, armed := pool.due(id)
		assert.True(t, armed, id)
	}
	_, armed := pool.due("2")
	assert.False(t, armed)

	// Successes, 5 included after its retries, land while 2 and 4 are still retrying.
	for _, okID := range ok {
		for _, failedID := range failed {
			assert.True(t, refresher.lastAttempt(okID).Before(refresher.lastAttempt(failedID)),
				"credential %d finished after %d gave up", okID, failedID)
		}
	}
	creds.AssertExpectations(t)
}

func TestRefreshMany_MissingCredentialIsNotRetried(t *testing.T) {
	creds := new(mocks.MockCredentialRepository)
	creds.On("GetByID", mock.Anything, int64(8)).Return(nil, nil)
	notifier := &recordingNotifier{}
	svc := newTestRefreshService(creds, newFlakyRefresher(nil), newMemPool(), notifier)

	outcomes := svc.RefreshMany(context.Background(), []int64{8})

	assert.ErrorIs(t, outcomes[0].Err, ErrCredentialNotFound)
	assert.Equal(t, 1, outcomes[0].Attempts)
	assert.Zero(t, notifier.count())
	creds.AssertNotCalled(t, "MarkRefreshFailed", mock.Anything, mock.Anything)
}

func TestArm_ClampsPastDueToNow(t *testing.T) {
	pool := newMemPool()
	svc := newTestRefreshService(new(mocks.MockCredentialRepository), newFlakyRefresher(nil), pool, &recordingNotifier{})
	now := time.Now()
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Arm(context.Background(), expiringCredential(1, now.Add(time.Hour))))
	due, _ := pool.due("1")
	assert.Equal(t, now.UnixMilli(), due)

	require.NoError(t, svc.Arm(context.Background(), &models.Credential{ID: 2}))
	_, armed := pool.due("2")
	assert.False(t, armed)
}
