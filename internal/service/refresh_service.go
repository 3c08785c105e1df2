package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/sirupsen/logrus"
)

// RefreshPool is where refreshed credentials are armed for their next refresh.
type RefreshPool interface {
	Add(ctx context.Context, id string, dueMillis int64) error
}

type RefreshOutcome struct {
	CredentialID int64
	Attempts     int
	Err          error
}

func (o RefreshOutcome) OK() bool { return o.Err == nil }

type RefreshService interface {
	// GetValid returns c unchanged while its expiry is outside the safety
	// window, and refreshes it once otherwise.
	GetValid(ctx context.Context, c *models.Credential) (*models.Credential, error)
	// RefreshMany force-refreshes every id concurrently, retrying each one.
	RefreshMany(ctx context.Context, ids []int64) []RefreshOutcome
	// Arm schedules the next refresh of c.
	Arm(ctx context.Context, c *models.Credential) error
}

type refreshService struct {
	creds      repository.CredentialRepository
	refreshers map[models.Provider]Refresher
	pool       RefreshPool
	notifier   Notifier
	cfg        config.Refresh
	now        func() time.Time
}

func NewRefreshService(
	creds repository.CredentialRepository,
	refreshers map[models.Provider]Refresher,
	pool RefreshPool,
	notifier Notifier,
	cfg config.Refresh) RefreshService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &refreshService{
		creds:      creds,
		refreshers: refreshers,
		pool:       pool,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *refreshService) GetValid(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	if c == nil {
		return nil, ErrCredentialNotFound
	}
	if c.ExpiresAtMillis == 0 {
		return c, nil
	}

	now := s.now()
	expiry := c.Expiry()
	if expiry.Sub(now) > s.cfg.SafetyWindow {
		return c, nil
	}

	log := logrus.WithFields(logrus.Fields{"credential_id": c.ID, "provider": c.Provider})

	refreshed, err := s.refresh(ctx, c)
	if err == nil {
		return refreshed, nil
	}
	if errors.Is(err, repository.ErrStaleCredential) {
		// Someone else refreshed it first.
		current, getErr := s.creds.GetByID(ctx, c.ID)
		if getErr == nil && current != nil {
			return current, nil
		}
	}
	if now.Before(expiry) {
		log.WithError(err).Warn("refresh failed, using token until it expires")
		return c, nil
	}
	if errors.Is(err, ErrCredentialInvalid) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
}

// refresh runs the provider refresh, stores the result and re-arms it.
func (s *refreshService) refresh(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	r, ok := s.refreshers[c.Provider]
	if !ok {
		return nil, fmt.Errorf("no refresher for provider %s", c.Provider)
	}

	token, err := r.Refresh(ctx, c)
	if err != nil {
		return nil, err
	}

	updated := *c
	apply(&updated, token)
	if err := s.creds.SetToken(ctx, &updated); err != nil {
		return nil, err
	}

	if err := s.Arm(ctx, &updated); err != nil {
		logrus.WithError(err).WithField("credential_id", c.ID).Warn("could not arm credential for refresh")
	}
	return &updated, nil
}

func apply(c *models.Credential, token *transfer.RefreshedToken) {
	info := make(map[string]string, len(c.AdditionalInfo)+1)
	for k, v := range c.AdditionalInfo {
		info[k] = v
	}
	c.AdditionalInfo = info

	c.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		c.SetInfo(models.InfoRefreshToken, token.RefreshToken)
	}
	c.SetExpiry(token.ExpiresAt)
}

// Arm schedules c at expiry minus the safety window, or now if that is past.
// Credentials without an expiry are not armed.
func (s *refreshService) Arm(ctx context.Context, c *models.Credential) error {
	if c.ExpiresAtMillis == 0 || s.pool == nil {
		return nil
	}
	due := c.Expiry().Add(-s.cfg.SafetyWindow)
	if now := s.now(); due.Before(now) {
		due = now
	}
	return s.pool.Add(ctx, strconv.FormatInt(c.ID, 10), due.UnixMilli())
}

func (s *refreshService) RefreshMany(ctx context.Context, ids []int64) []RefreshOutcome {
	outcomes := make([]RefreshOutcome, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			outcomes[i] = s.refreshWithRetry(ctx, id)
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		log := logrus.WithFields(logrus.Fields{"credential_id": o.CredentialID, "attempts": o.Attempts})
		if o.OK() {
			log.Info("credential refreshed")
			continue
		}
		failed++
		log.WithError(o.Err).Error("credential refresh failed")
	}
	logrus.WithFields(logrus.Fields{"total": len(ids), "failed": failed}).Info("refresh batch done")

	return outcomes
}

func (s *refreshService) refreshWithRetry(ctx context.Context, id int64) RefreshOutcome {
	outcome := RefreshOutcome{CredentialID: id}

	operation := func() error {
		outcome.Attempts++
		c, err := s.creds.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return backoff.Permanent(ErrCredentialNotFound)
		}
		_, err = s.refresh(ctx, c)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxAttempts-1)),
		ctx,
	)
	outcome.Err = backoff.Retry(operation, policy)

	// A cancelled batch is picked up again on the next claim.
	if outcome.Err != nil && !errors.Is(outcome.Err, ErrCredentialNotFound) && ctx.Err() == nil {
		// Flagged credentials are left out of reconcile until the account is
		// reconnected, so exhaustion is reported once.
		if err := s.creds.MarkRefreshFailed(ctx, id); err != nil {
			logrus.WithError(err).WithField("credential_id", id).Warn("could not flag exhausted credential")
		}
		err := s.notifier.Notify(ctx, Notification{
			Title: "Credential refresh failed",
			Err:   outcome.Err,
			Fields: map[string]string{
				"credential_id": strconv.FormatInt(id, 10),
				"attempts":      strconv.Itoa(outcome.Attempts),
			},
		})
		if err != nil {
			logrus.WithError(err).WithField("credential_id", id).Warn("refresh failure notification not sent")
		}
	}
	return outcome
}
