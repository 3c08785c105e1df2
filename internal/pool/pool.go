// Package pool keeps ids that become due at a known instant in a Redis sorted
// set, scored by due time in epoch milliseconds.
package pool

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	PostsKey       = "crosspost:pool:posts"
	CredentialsKey = "crosspost:pool:credentials"
)

// claimScript reads and removes every member scored at or below ARGV[1] in one
// step, so two scanners can never claim the same member.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES')
for i = 1, #items, 2 do
	redis.call('ZREM', KEYS[1], items[i])
end
return items
`)

type Entry struct {
	ID    string
	Score int64
}

func (e Entry) Due() time.Time {
	return time.UnixMilli(e.Score)
}

type Pool struct {
	rdb redis.UniversalClient
	key string
}

func New(rdb redis.UniversalClient, key string) *Pool {
	return &Pool{rdb: rdb, key: key}
}

func (p *Pool) Key() string {
	return p.key
}

// Add inserts id, or moves it if already present.
func (p *Pool) Add(ctx context.Context, id string, dueMillis int64) error {
	return p.rdb.ZAdd(ctx, p.key, redis.Z{Score: float64(dueMillis), Member: id}).Err()
}

// AddNX inserts id only if it is not already pending. It reports whether the id was added.
func (p *Pool) AddNX(ctx context.Context, id string, dueMillis int64) (bool, error) {
	n, err := p.rdb.ZAddNX(ctx, p.key, redis.Z{Score: float64(dueMillis), Member: id}).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Pool) AddEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{Score: float64(e.Score), Member: e.ID}
	}
	return p.rdb.ZAdd(ctx, p.key, members...).Err()
}

// ClaimDue removes and returns the ids of every entry due at or before maxMillis.
func (p *Pool) ClaimDue(ctx context.Context, maxMillis int64) ([]string, error) {
	entries, err := p.ClaimDueEntries(ctx, maxMillis)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// ClaimDueEntries is ClaimDue keeping each entry's score, ordered by score.
func (p *Pool) ClaimDueEntries(ctx context.Context, maxMillis int64) ([]Entry, error) {
	raw, err := claimScript.Run(ctx, p.rdb, []string{p.key}, maxMillis).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim due from %s: %w", p.key, err)
	}

	entries := make([]Entry, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		score, err := strconv.ParseFloat(raw[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad score %q for %s: %w", raw[i+1], raw[i], err)
		}
		entries = append(entries, Entry{ID: raw[i], Score: int64(score)})
	}
	return entries, nil
}

func (p *Pool) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return p.rdb.ZRem(ctx, p.key, members...).Err()
}

func (p *Pool) Len(ctx context.Context) (int64, error) {
	return p.rdb.ZCard(ctx, p.key).Result()
}

// CountDue counts entries due at or before maxMillis without claiming them.
func (p *Pool) CountDue(ctx context.Context, maxMillis int64) (int64, error) {
	return p.rdb.ZCount(ctx, p.key, "-inf", strconv.FormatInt(maxMillis, 10)).Result()
}

// Score returns the due time of id and whether it is pending.
func (p *Pool) Score(ctx context.Context, id string) (int64, bool, error) {
	score, err := p.rdb.ZScore(ctx, p.key, id).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int64(score), true, nil
}
