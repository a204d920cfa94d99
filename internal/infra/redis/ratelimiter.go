package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-sync/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultReplayRate   = 20
	defaultLimiterScope = "ratelimit:replay"
	limiterWindow       = time.Second
)

// reserveScript keeps a sorted set of request timestamps (ms) per bucket.
// It records the request and returns 0 when fewer than ARGV[3] requests fall
// inside the window, otherwise the ms until the oldest one leaves it.
var reserveScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return 0
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

type LimiterOption func(*RedisRateLimiter)

// WithLimiterClock replaces the clock request timestamps are taken from.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(r *RedisRateLimiter) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLimiterSleep replaces the wait used by Wait. sleep must return
// ctx.Err() once ctx is done.
func WithLimiterSleep(sleep func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(r *RedisRateLimiter) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// RedisRateLimiter is a sliding one-second window over a Redis sorted set.
// Offline replays draw from it so a long queue does not flood the backend
// after a reconnect; processes sharing the redis share the budget.
type RedisRateLimiter struct {
	client *goredis.Client
	scope  string
	rate   int64
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, scope string, ratePerSec int, opts ...LimiterOption) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if scope = strings.TrimSpace(scope); scope == "" {
		scope = defaultLimiterScope
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultReplayRate
	}

	r := &RedisRateLimiter{
		client: client,
		scope:  scope,
		rate:   int64(ratePerSec),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Key is the sorted set holding the window of bucket.
func (r *RedisRateLimiter) Key(bucket string) string {
	return r.scope + ":" + strings.ToLower(strings.TrimSpace(bucket))
}

func (r *RedisRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	wait, err := r.reserve(ctx, bucket)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until bucket has room, sleeping exactly until the oldest
// request in the window expires each time it is full.
func (r *RedisRateLimiter) Wait(ctx context.Context, bucket string) error {
	for {
		wait, err := r.reserve(ctx, bucket)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, bucket string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	if strings.TrimSpace(bucket) == "" {
		return 0, fmt.Errorf("bucket is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	args := []any{
		r.now().UnixMilli(),
		limiterWindow.Milliseconds(),
		r.rate,
		uuid.NewString(),
	}
	ms, err := reserveScript.Run(ctx, r.client, []string{r.Key(bucket)}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
