// Package redis stores job timestamps in Redis as plain integer keys holding
// unix seconds, without expiry.
//
//	client, _ := platformredis.New(ctx, platformredis.DefaultOptions("localhost:6379"))
//	store := redisstore.New(client)
//	registry := jobs.New(store)
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobpool/internal/jobs"
	"jobpool/internal/shared"
)

var _ jobs.GateStore = (*Store)(nil)

// markScript sets KEYS[1] to ARGV[1] unless it holds a value newer than
// ARGV[1] - ARGV[2]. Returns 1 when the key was written.
var markScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and tonumber(v) > tonumber(ARGV[1]) - tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// Store is a jobs.GateStore backed by Redis.
type Store struct {
	client redis.Cmdable
}

// New wraps client. The caller owns the client lifecycle.
func New(client redis.Cmdable) *Store {
	return &Store{client: client}
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return n > 0, nil
}

func (s *Store) PutForever(ctx context.Context, key string, t time.Time) error {
	if err := s.client.Set(ctx, key, t.Unix(), 0).Err(); err != nil {
		return wrap("set", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrap("get", key, err)
	}
	return time.Unix(v, 0), true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrap("del", key, err)
	}
	return nil
}

func (s *Store) MarkIfElapsed(ctx context.Context, key string, now time.Time, gap time.Duration) (bool, error) {
	n, err := markScript.Run(ctx, s.client, []string{key}, now.Unix(), int64(gap/time.Second)).Int64()
	if err != nil {
		return false, wrap("mark", key, err)
	}
	return n == 1, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", "", s.client.Ping(ctx).Err())
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return shared.MarkKind(fmt.Errorf("redis %s %q: %w", op, key, err), shared.KindDependencyFailure)
}
