package job

import (
	"context"
	"strconv"
	"time"

	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/sirupsen/logrus"
)

type ArmPool interface {
	AddNX(ctx context.Context, id string, dueMillis int64) (bool, error)
}

// TokenRefreshJob puts back into the refresh pool any credential that is
// close to expiry but has no pending refresh, for instance after the pool was
// flushed or an Arm call failed.
type TokenRefreshJob struct {
	cr     repository.CredentialRepository
	pool   ArmPool
	window time.Duration
	now    func() time.Time
}

func NewTokenRefreshJob(cr repository.CredentialRepository, pool ArmPool, window time.Duration) *TokenRefreshJob {
	return &TokenRefreshJob{
		cr:     cr,
		pool:   pool,
		window: window,
		now:    time.Now,
	}
}

func (j *TokenRefreshJob) ReconcileTokens() {
	if _, err := j.Reconcile(context.Background()); err != nil {
		logrus.Error("token reconcile failed: " + err.Error())
	}
}

// Reconcile returns how many credentials were re-armed. Entries already in
// the pool keep their score, and credentials whose refresh gave up stay out
// until they are reconnected.
func (j *TokenRefreshJob) Reconcile(ctx context.Context) (int, error) {
	now := j.now()

	credentials, err := j.cr.ListExpiringBefore(ctx, now.Add(j.window))
	if err != nil {
		return 0, err
	}

	armed := 0
	for _, c := range credentials {
		if c.NeedsReauth() {
			continue
		}
		due := c.ExpiresAtMillis - j.window.Milliseconds()
		if due < now.UnixMilli() {
			due = now.UnixMilli()
		}

		added, err := j.pool.AddNX(ctx, strconv.FormatInt(c.ID, 10), due)
		if err != nil {
			logrus.WithField("credential_id", c.ID).Error(err.Error())
			continue
		}
		if added {
			armed++
			logrus.WithFields(logrus.Fields{"credential_id": c.ID, "provider": c.Provider}).Info("re-armed credential refresh")
		}
	}

	return armed, nil
}
