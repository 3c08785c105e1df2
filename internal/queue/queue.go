package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/sirupsen/logrus"
)

// BatchPublisher hands claimed pool entries to workers. The entries it could
// not confirm are returned so the caller can put them back in the pool.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, class Class, entries []pool.Entry) ([]pool.Entry, error)
	Close() error
}

// Completed tasks are kept this long so a second enqueue of the same
// occurrence is rejected as a duplicate.
const taskRetention = 24 * time.Hour

type AsynqPublisher struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewAsynqPublisher(client *asynq.Client, confirmTimeout time.Duration) *AsynqPublisher {
	return &AsynqPublisher{client: client, timeout: confirmTimeout}
}

// TaskID identifies one occurrence of an id becoming due.
func TaskID(class Class, e pool.Entry) string {
	return fmt.Sprintf("%s:%s:%d", class, e.ID, e.Score)
}

func (p *AsynqPublisher) PublishBatch(ctx context.Context, class Class, entries []pool.Entry) ([]pool.Entry, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("unknown dispatch class %q", class)
	}

	var failed []pool.Entry
	for _, e := range entries {
		if err := p.enqueue(ctx, class, e); err != nil {
			logrus.WithFields(logrus.Fields{"class": class, "id": e.ID}).Error(err.Error())
			failed = append(failed, e)
		}
	}

	if len(failed) > 0 {
		logrus.WithFields(logrus.Fields{"class": class, "failed": len(failed), "total": len(entries)}).Warn("batch partially enqueued")
	}
	return failed, nil
}

func (p *AsynqPublisher) enqueue(ctx context.Context, class Class, e pool.Entry) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	opts := []asynq.Option{
		asynq.TaskID(TaskID(class, e)),
		asynq.Queue(class.queue()),
		asynq.ProcessAt(e.Due()),
		asynq.MaxRetry(5),
		asynq.Retention(taskRetention),
	}
	if class == ClassCredential {
		opts = append(opts, asynq.Group(refreshGroup))
	}

	_, err := p.client.EnqueueContext(ctx, asynq.NewTask(string(class), []byte(e.ID)), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithFields(logrus.Fields{"class": class, "id": e.ID}).Debug("occurrence already enqueued")
		return nil
	}
	return err
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}
