package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAsynqPublisher(t *testing.T) (*AsynqPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	p := NewAsynqPublisher(client, time.Second)
	t.Cleanup(func() { _ = p.Close() })
	return p, mr
}

func pendingTasks(t *testing.T, mr *miniredis.Miniredis, queue string) []string {
	t.Helper()
	key := "asynq:{" + queue + "}:pending"
	if !mr.Exists(key) {
		return nil
	}
	ids, err := mr.List(key)
	require.NoError(t, err)
	return ids
}

func TestTaskID(t *testing.T) {
	assert.Equal(t, "post:publish:42:1700000000000", TaskID(ClassPost, pool.Entry{ID: "42", Score: 1700000000000}))
}

func TestClassTopic(t *testing.T) {
	assert.Equal(t, "crosspost.post.publish", ClassPost.Topic())
	assert.Equal(t, "crosspost.credential.refresh", ClassCredential.Topic())

	c, ok := classOfTopic("crosspost.credential.refresh")
	assert.True(t, ok)
	assert.Equal(t, ClassCredential, c)
	_, ok = classOfTopic("crosspost.other")
	assert.False(t, ok)
}

func TestAsynqPublisher_EnqueuesDuePosts(t *testing.T) {
	p, mr := newAsynqPublisher(t)
	past := time.Now().Add(-time.Minute).UnixMilli()

	failed, err := p.PublishBatch(context.Background(), ClassPost, []pool.Entry{
		{ID: "1", Score: past},
		{ID: "2", Score: past},
	})
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.ElementsMatch(t, []string{
		TaskID(ClassPost, pool.Entry{ID: "1", Score: past}),
		TaskID(ClassPost, pool.Entry{ID: "2", Score: past}),
	}, pendingTasks(t, mr, QueuePosts))

	payload := mr.HGet("asynq:{posts}:t:"+TaskID(ClassPost, pool.Entry{ID: "1", Score: past}), "msg")
	assert.NotEmpty(t, payload)
}

func TestAsynqPublisher_DuplicateOccurrenceIsDelivered(t *testing.T) {
	p, mr := newAsynqPublisher(t)
	e := pool.Entry{ID: "7", Score: time.Now().Add(-time.Second).UnixMilli()}

	_, err := p.PublishBatch(context.Background(), ClassPost, []pool.Entry{e})
	require.NoError(t, err)
	failed, err := p.PublishBatch(context.Background(), ClassPost, []pool.Entry{e})
	require.NoError(t, err)

	assert.Empty(t, failed)
	assert.Len(t, pendingTasks(t, mr, QueuePosts), 1)

	// a later occurrence of the same id is a new task
	next := pool.Entry{ID: "7", Score: e.Score + 1}
	_, err = p.PublishBatch(context.Background(), ClassPost, []pool.Entry{next})
	require.NoError(t, err)
	assert.Len(t, pendingTasks(t, mr, QueuePosts), 2)
}

func TestAsynqPublisher_FutureEntriesAreScheduled(t *testing.T) {
	p, mr := newAsynqPublisher(t)
	e := pool.Entry{ID: "9", Score: time.Now().Add(30 * time.Second).UnixMilli()}

	failed, err := p.PublishBatch(context.Background(), ClassPost, []pool.Entry{e})
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.Empty(t, pendingTasks(t, mr, QueuePosts))
	scheduled, err := mr.ZMembers("asynq:{posts}:scheduled")
	require.NoError(t, err)
	assert.Equal(t, []string{TaskID(ClassPost, e)}, scheduled)
}

func TestAsynqPublisher_CredentialsAreGrouped(t *testing.T) {
	p, mr := newAsynqPublisher(t)
	e := pool.Entry{ID: "5", Score: time.Now().Add(-time.Second).UnixMilli()}

	failed, err := p.PublishBatch(context.Background(), ClassCredential, []pool.Entry{e})
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.True(t, mr.Exists("asynq:{credentials}:t:"+TaskID(ClassCredential, e)))
	assert.Empty(t, pendingTasks(t, mr, QueueCredentials))
	members, err := mr.ZMembers("asynq:{credentials}:g:" + refreshGroup)
	require.NoError(t, err)
	assert.Equal(t, []string{TaskID(ClassCredential, e)}, members)
}

func TestAsynqPublisher_UnreachableRedisFailsEveryEntry(t *testing.T) {
	p, mr := newAsynqPublisher(t)
	p.timeout = 200 * time.Millisecond
	mr.Close()

	entries := []pool.Entry{{ID: "1", Score: 1}, {ID: "2", Score: 2}}
	failed, err := p.PublishBatch(context.Background(), ClassPost, entries)

	require.NoError(t, err)
	assert.Equal(t, entries, failed)
}

func TestAsynqPublisher_UnknownClass(t *testing.T) {
	p, _ := newAsynqPublisher(t)

	_, err := p.PublishBatch(context.Background(), Class("other"), []pool.Entry{{ID: "1", Score: 1}})
	assert.Error(t, err)
}
