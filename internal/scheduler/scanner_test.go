package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]pool.Entry
	fail    map[string]bool
	err     error
}

func (p *fakePublisher) PublishBatch(_ context.Context, _ queue.Class, entries []pool.Entry) ([]pool.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, entries)
	if p.err != nil {
		return nil, p.err
	}
	var failed []pool.Entry
	for _, e := range entries {
		if p.fail[e.ID] {
			failed = append(failed, e)
		}
	}
	return failed, nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) sizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.batches))
	for i, b := range p.batches {
		out[i] = len(b)
	}
	return out
}

func newTestScanner(t *testing.T, publisher queue.BatchPublisher) (*Scanner, *pool.Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	p := pool.New(rdb, pool.PostsKey)
	s := NewScanner(queue.ClassPost, p, publisher, time.Minute, config.Scheduler{BatchSize: 1000, RequeueBackoff: 30 * time.Second})
	s.now = func() time.Time { return fixedNow }
	return s, p
}

func TestScan_EmptyPoolIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	s, _ := newTestScanner(t, pub)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.batches)
}

func TestScan_SplitsIntoBatches(t *testing.T) {
	pub := &fakePublisher{}
	s, p := newTestScanner(t, pub)
	ctx := context.Background()

	entries := make([]pool.Entry, 2500)
	for i := range entries {
		entries[i] = pool.Entry{ID: strconv.Itoa(i + 1), Score: fixedNow.Add(-time.Duration(i) * time.Second).UnixMilli()}
	}
	require.NoError(t, p.AddEntries(ctx, entries))

	n, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2500, n)
	assert.Equal(t, []int{1000, 1000, 500}, pub.sizes())

	left, err := p.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestScan_LooksOneIntervalAhead(t *testing.T) {
	pub := &fakePublisher{}
	s, p := newTestScanner(t, pub)
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "due", fixedNow.UnixMilli()))
	require.NoError(t, p.Add(ctx, "soon", fixedNow.Add(59*time.Second).UnixMilli()))
	require.NoError(t, p.Add(ctx, "later", fixedNow.Add(2*time.Minute).UnixMilli()))

	n, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "due", pub.batches[0][0].ID)
	assert.Equal(t, fixedNow.Add(59*time.Second).UnixMilli(), pub.batches[0][1].Score)

	_, pending, err := p.Score(ctx, "later")
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestScan_RequeuesUndeliveredIds(t *testing.T) {
	pub := &fakePublisher{fail: map[string]bool{"2": true}}
	s, p := newTestScanner(t, pub)
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "1", fixedNow.UnixMilli()))
	require.NoError(t, p.Add(ctx, "2", fixedNow.UnixMilli()))

	n, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	score, pending, err := p.Score(ctx, "2")
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, fixedNow.Add(30*time.Second).UnixMilli(), score)

	_, pending, err = p.Score(ctx, "1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestScan_PublisherErrorRequeuesWholeBatch(t *testing.T) {
	pub := &fakePublisher{err: errors.New("queue down")}
	s, p := newTestScanner(t, pub)
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "1", fixedNow.UnixMilli()))
	require.NoError(t, p.Add(ctx, "2", fixedNow.UnixMilli()))

	n, err := s.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	left, err := p.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)
}

type brokenPool struct{}

func (brokenPool) ClaimDueEntries(context.Context, int64) ([]pool.Entry, error) {
	return nil, errors.New("connection refused")
}

func (brokenPool) AddEntries(context.Context, []pool.Entry) error {
	return errors.New("connection refused")
}

func TestScan_StoreUnreachableSkipsTick(t *testing.T) {
	pub := &fakePublisher{}
	s := NewScanner(queue.ClassPost, brokenPool{}, pub, time.Minute, config.Scheduler{BatchSize: 1000})

	_, err := s.Scan(context.Background())
	assert.Error(t, err)
	assert.Empty(t, pub.batches)
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	pub := &fakePublisher{}
	s, p := newTestScanner(t, pub)
	require.NoError(t, p.Add(context.Background(), "1", fixedNow.UnixMilli()))

	s.running.Lock()
	s.Tick()
	s.running.Unlock()
	assert.Empty(t, pub.batches)

	s.Tick()
	assert.Equal(t, []int{1}, pub.sizes())
}

func TestEvery(t *testing.T) {
	c := cron.New()
	assert.NoError(t, Every(c, time.Minute, func() {}))
	assert.Len(t, c.Entries(), 1)
	assert.Error(t, Every(c, 0, func() {}))
}
