package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublish struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (r *recordingPublish) Publish(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func (r *recordingPublish) published() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

type recordingRefresh struct {
	mu      sync.Mutex
	batches [][]int64
}

func (r *recordingRefresh) GetValid(_ context.Context, c *models.Credential) (*models.Credential, error) {
	return c, nil
}

func (r *recordingRefresh) RefreshMany(_ context.Context, ids []int64) []service.RefreshOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ids)
	out := make([]service.RefreshOutcome, len(ids))
	for i, id := range ids {
		out[i] = service.RefreshOutcome{CredentialID: id, Attempts: 1}
	}
	return out
}

func (r *recordingRefresh) Arm(context.Context, *models.Credential) error { return nil }

func newTestQueue() (*Queue, *recordingPublish, *recordingRefresh) {
	pub := &recordingPublish{}
	ref := &recordingRefresh{}
	return NewQueue(pub, ref), pub, ref
}

func TestHandlePostTask(t *testing.T) {
	q, pub, _ := newTestQueue()

	err := q.HandlePostTask(context.Background(), asynq.NewTask(string(ClassPost), []byte("42")))
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, pub.published())
}

func TestHandlePostTask_BadPayloadIsNotRetried(t *testing.T) {
	q, pub, _ := newTestQueue()

	for _, payload := range []string{"", "abc", "-3", "0"} {
		err := q.HandlePostTask(context.Background(), asynq.NewTask(string(ClassPost), []byte(payload)))
		assert.ErrorIs(t, err, asynq.SkipRetry, payload)
	}
	assert.Empty(t, pub.published())
}

func TestHandlePostTask_InfrastructureErrorIsRetried(t *testing.T) {
	q, pub, _ := newTestQueue()
	pub.err = errors.New("db down")

	err := q.HandlePostTask(context.Background(), asynq.NewTask(string(ClassPost), []byte("42")))
	assert.EqualError(t, err, "db down")
}

func TestAggregateRefreshAndHandleBatch(t *testing.T) {
	q, _, ref := newTestQueue()

	batch := AggregateRefresh(refreshGroup, []*asynq.Task{
		asynq.NewTask(string(ClassCredential), []byte("3")),
		asynq.NewTask(string(ClassCredential), []byte("junk")),
		asynq.NewTask(string(ClassCredential), []byte("8")),
	})
	assert.Equal(t, TaskTypeRefreshBatch, batch.Type())
	assert.Equal(t, "3\njunk\n8", string(batch.Payload()))

	require.NoError(t, q.HandleRefreshBatchTask(context.Background(), batch))
	assert.Equal(t, [][]int64{{3, 8}}, ref.batches)
}

func TestHandleRefreshTask(t *testing.T) {
	q, _, ref := newTestQueue()

	require.NoError(t, q.HandleRefreshTask(context.Background(), asynq.NewTask(string(ClassCredential), []byte("11"))))
	assert.Equal(t, [][]int64{{11}}, ref.batches)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_WritesOneMessagePerEntry(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}

	failed, err := p.PublishBatch(context.Background(), ClassPost, []pool.Entry{{ID: "1", Score: 100}, {ID: "2", Score: 200}})
	require.NoError(t, err)
	assert.Empty(t, failed)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "crosspost.post.publish", w.msgs[0].Topic)
	assert.Equal(t, "2", string(w.msgs[1].Value))
	assert.Equal(t, time.UnixMilli(200), dueOf(w.msgs[1]))
}

func TestKafkaPublisher_PartialFailure(t *testing.T) {
	w := &fakeWriter{err: kafka.WriteErrors{nil, errors.New("not enough replicas"), nil}}
	p := &KafkaPublisher{writer: w}
	entries := []pool.Entry{{ID: "1", Score: 1}, {ID: "2", Score: 2}, {ID: "3", Score: 3}}

	failed, err := p.PublishBatch(context.Background(), ClassCredential, entries)
	require.NoError(t, err)
	assert.Equal(t, []pool.Entry{{ID: "2", Score: 2}}, failed)
}

func TestKafkaPublisher_TotalFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("no brokers")}
	p := &KafkaPublisher{writer: w}
	entries := []pool.Entry{{ID: "1", Score: 1}, {ID: "2", Score: 2}}

	failed, err := p.PublishBatch(context.Background(), ClassPost, entries)
	require.NoError(t, err)
	assert.Equal(t, entries, failed)
}

// fakeReader serves its messages once, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.msgs) == 0 && r.drained != nil {
		close(r.drained)
		r.drained = nil
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func message(class Class, offset int64, id string) kafka.Message {
	return kafka.Message{
		Topic:   class.Topic(),
		Offset:  offset,
		Value:   []byte(id),
		Headers: []kafka.Header{{Key: dueHeader, Value: []byte(strconv.FormatInt(time.Now().Add(-time.Second).UnixMilli(), 10))}},
	}
}

func TestKafkaConsumer_HandlesThenCommits(t *testing.T) {
	q, pub, ref := newTestQueue()
	drained := make(chan struct{})
	reader := &fakeReader{
		msgs: []kafka.Message{
			message(ClassPost, 0, "42"),
			message(ClassCredential, 1, "7"),
			message(ClassPost, 2, "garbage"),
		},
		drained: drained,
	}
	c := newKafkaConsumer(q, []messageReader{reader})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain")
	}
	cancel()
	<-done

	assert.Equal(t, []int64{42}, pub.published())
	assert.Equal(t, [][]int64{{7}}, ref.batches)
	assert.Equal(t, []int64{0, 1, 2}, reader.committed)
}

func TestKafkaConsumer_RetriesInfrastructureErrors(t *testing.T) {
	q, pub, _ := newTestQueue()
	pub.err = errors.New("db down")
	drained := make(chan struct{})
	reader := &fakeReader{msgs: []kafka.Message{message(ClassPost, 0, "42")}, drained: drained}
	c := newKafkaConsumer(q, []messageReader{reader})
	c.retry = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not commit")
	}
	assert.Equal(t, []int64{42, 42, 42}, pub.published())
}
