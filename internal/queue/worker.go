package queue

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/sirupsen/logrus"
)

func parseID(payload []byte) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad id payload %q", payload)
	}
	return id, nil
}

// HandlePostTask publishes one post. Publishing failures are settled on the
// post itself, so only infrastructure errors reach asynq for a retry.
func (q *Queue) HandlePostTask(ctx context.Context, task *asynq.Task) error {
	id, err := parseID(task.Payload())
	if err != nil {
		logrus.Error(err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return q.publish.Publish(ctx, id)
}

// HandleRefreshTask covers refresh tasks that reached a worker without being
// aggregated.
func (q *Queue) HandleRefreshTask(ctx context.Context, task *asynq.Task) error {
	id, err := parseID(task.Payload())
	if err != nil {
		logrus.Error(err.Error())
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	q.refreshIDs(ctx, []int64{id})
	return nil
}

func (q *Queue) HandleRefreshBatchTask(ctx context.Context, task *asynq.Task) error {
	var ids []int64
	for _, line := range bytes.Split(task.Payload(), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		id, err := parseID(line)
		if err != nil {
			logrus.Warn(err.Error())
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	q.refreshIDs(ctx, ids)
	return nil
}

// refreshIDs never fails the delivery: exhausted ids are reported by the
// refresh service and keep their stale credential.
func (q *Queue) refreshIDs(ctx context.Context, ids []int64) {
	failed := 0
	for _, o := range q.refresh.RefreshMany(ctx, ids) {
		if !o.OK() {
			failed++
		}
	}
	logrus.WithFields(logrus.Fields{"total": len(ids), "failed": failed}).Info("refresh batch done")
}

// AggregateRefresh folds grouped refresh tasks into one batch task whose
// payload is the newline separated ids.
func AggregateRefresh(group string, tasks []*asynq.Task) *asynq.Task {
	payloads := make([][]byte, len(tasks))
	for i, t := range tasks {
		payloads[i] = t.Payload()
	}
	return asynq.NewTask(TaskTypeRefreshBatch, bytes.Join(payloads, []byte("\n")))
}

func (q *Queue) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(string(ClassPost), q.HandlePostTask)
	mux.HandleFunc(string(ClassCredential), q.HandleRefreshTask)
	mux.HandleFunc(TaskTypeRefreshBatch, q.HandleRefreshBatchTask)
	return mux
}

func NewServer(opt asynq.RedisConnOpt, cfg config.Queue) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueuePosts:       3,
			QueueCredentials: 1,
		},
		GroupAggregator:  asynq.GroupAggregatorFunc(AggregateRefresh),
		GroupMaxSize:     cfg.RefreshGroupSize,
		GroupGracePeriod: cfg.RefreshGroupGrace,
		GroupMaxDelay:    6 * cfg.RefreshGroupGrace,
		Logger:           logrus.StandardLogger(),
	})
}
