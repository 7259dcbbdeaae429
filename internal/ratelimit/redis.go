package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Store   = (*RedisStore)(nil)
	_ Stepper = (*RedisStore)(nil)
)

const defaultRedisPrefix = "pollhub:ratelimit:"

// stepScript runs the whole fixed-window step server side.
// KEYS[1] hash key; ARGV[1] now in ms; ARGV[2] window in ms.
// Returns {attempts, window_start_ms}.
var stepScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
if start == nil or now - start > window then
  redis.call('HSET', KEYS[1], 'attempts', 1, 'start', now)
  redis.call('PEXPIRE', KEYS[1], window + 1)
  return {1, now}
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
return {attempts, start}
`)

// RedisStore shares counters between instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. Keys written by Set expire after ttl, which
// should be at least the limiter window. Zero values select the defaults.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "attempts", "start").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}
	attempts, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: corrupt attempts: %w", err)
	}
	startMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit: corrupt start: %w", err)
	}
	return Entry{Attempts: attempts, WindowStart: time.UnixMilli(startMs)}, true, nil
}

// Set overwrites the entry and refreshes the key expiry.
func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	k := s.prefix + key
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, "attempts", e.Attempts, "start", e.WindowStart.UnixMilli())
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ratelimit: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Step(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	res, err := stepScript.Run(ctx, s.client, []string{s.prefix + key}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("ratelimit: redis step: %w", err)
	}
	if len(res) != 2 {
		return Entry{}, errors.New("ratelimit: unexpected script reply")
	}
	return Entry{Attempts: int(res[0]), WindowStart: time.UnixMilli(res[1])}, nil
}
