package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Entries older than the window are trimmed, then the attempt is recorded
// only when under the limit, so rejected calls do not extend the window.
// Scores are unix milliseconds. Returns {allowed, count, oldest score}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("zremrangebyscore", key, "-inf", now - window)
local count = redis.call("zcard", key)
local allowed = 0
if count < max then
  redis.call("zadd", key, now, ARGV[4])
  redis.call("pexpire", key, window)
  count = count + 1
  allowed = 1
end
local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
return {allowed, count, oldest[2] or tostring(now)}
`)

// Limiter implements a sliding window rate limiter backed by Redis sorted sets.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

func (l Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow registers an attempt for key and reports whether it fits in max per
// window. reset is when the oldest counted attempt leaves the window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	now := l.now()
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}
	res, err := slidingWindowScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), window.Milliseconds(), max, uuid.NewString()).Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	ok, _ := res[0].(int64)
	count, _ := res[1].(int64)
	first := now.UnixMilli()
	if s, isStr := res[2].(string); isStr {
		if f, perr := strconv.ParseFloat(s, 64); perr == nil {
			first = int64(f)
		}
	}
	remaining = max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return ok == 1, remaining, time.UnixMilli(first).Add(window), nil
}
