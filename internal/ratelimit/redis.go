package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys outlive their window slightly so late requests still see the count.
const redisWindowTTLSeconds = 90

var redisIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisStore is a Store shared by every API instance.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore constructs a RedisStore. client is usually a *redis.Client.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(rawURL, prefix string) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return NewRedisStore(client, prefix), client, nil
}

// Allow counts one request for key in the window containing now.
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || s == nil || s.client == nil {
		return Result{Allowed: true}, nil
	}
	win := windowStart(now)
	reset := resetAt(win)

	res, err := redisIncrScript.Run(ctx, s.client, []string{s.buildKey(key, win)}, redisWindowTTLSeconds).Result()
	if err != nil {
		return Result{}, err
	}
	count, err := toCount(res)
	if err != nil {
		return Result{}, err
	}
	if count > int64(limit) {
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}, nil
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - int(count), Reset: reset}, nil
}

func toCount(res any) (int64, error) {
	switch v := res.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, errors.New("rate limit redis: unexpected response type")
	}
}

func (s *RedisStore) buildKey(key string, win int64) string {
	w := strconv.FormatInt(win, 10)
	if s.prefix == "" {
		return key + ":" + w
	}
	return s.prefix + ":" + key + ":" + w
}
