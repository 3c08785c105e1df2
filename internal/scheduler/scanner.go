// Package scheduler moves due ids from the pools onto the dispatch queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/sirupsen/logrus"
)

type DuePool interface {
	ClaimDueEntries(ctx context.Context, maxMillis int64) ([]pool.Entry, error)
	AddEntries(ctx context.Context, entries []pool.Entry) error
}

type Scanner struct {
	class     queue.Class
	pool      DuePool
	publisher queue.BatchPublisher
	lookahead time.Duration
	requeue   time.Duration
	batchSize int
	now       func() time.Time

	// ticks of one scanner never overlap
	running sync.Mutex
}

// NewScanner builds a scanner that looks one interval ahead, so an id is on
// the queue by the time it becomes due.
func NewScanner(class queue.Class, p DuePool, publisher queue.BatchPublisher, interval time.Duration, cfg config.Scheduler) *Scanner {
	return &Scanner{
		class:     class,
		pool:      p,
		publisher: publisher,
		lookahead: interval,
		requeue:   cfg.RequeueBackoff,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

// Scan claims every id due before now plus the lookahead and publishes them
// in batches. Ids the publisher could not confirm go back into the pool
// after the requeue backoff. It returns how many ids were handed off.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	now := s.now()
	log := logrus.WithField("class", s.class)

	entries, err := s.pool.ClaimDueEntries(ctx, now.Add(s.lookahead).UnixMilli())
	if err != nil {
		log.Error(err.Error())
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	size := s.batchSize
	if size <= 0 {
		size = len(entries)
	}

	var retry []pool.Entry
	for start := 0; start < len(entries); start += size {
		batch := entries[start:min(start+size, len(entries))]
		failed, err := s.publisher.PublishBatch(ctx, s.class, batch)
		if err != nil {
			log.WithField("batch", len(batch)).Error(err.Error())
			failed = batch
		}
		retry = append(retry, failed...)
	}

	if len(retry) > 0 {
		at := now.Add(s.requeue).UnixMilli()
		requeued := make([]pool.Entry, len(retry))
		for i, e := range retry {
			requeued[i] = pool.Entry{ID: e.ID, Score: at}
		}
		if err := s.pool.AddEntries(ctx, requeued); err != nil {
			ids := make([]string, len(retry))
			for i, e := range retry {
				ids[i] = e.ID
			}
			log.WithField("ids", ids).Error("could not requeue undelivered ids: " + err.Error())
			return len(entries) - len(retry), err
		}
		log.WithField("count", len(retry)).Warn("requeued undelivered ids")
	}

	log.WithFields(logrus.Fields{"claimed": len(entries), "dispatched": len(entries) - len(retry)}).Info("scan done")
	return len(entries) - len(retry), nil
}

// Tick runs one scan unless the previous one is still going.
func (s *Scanner) Tick() {
	if !s.running.TryLock() {
		logrus.WithField("class", s.class).Warn("previous scan still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	_, _ = s.Scan(context.Background())
}
