package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is the multi-instance budget limiter. The check and the
// increment run inside one Lua script, so the invariant count <= limit holds
// across every process sharing the credential, with no read-then-write race.
type RedisWindow struct {
	client   *redis.Client
	key      string
	limit    int
	duration time.Duration

	checkScript *redis.Script
	decScript   *redis.Script

	now func() time.Time
}

// Window state lives in a hash: count + window_start (unix millis).
// The script resets an expired window, then admits and increments only when
// the count is under the limit.
const checkAndIncrementScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])

local start = tonumber(redis.call("HGET", key, "window_start") or "0")
local count = tonumber(redis.call("HGET", key, "count") or "0")

if start == 0 or nowMs - start >= windowMs then
    start = nowMs
    count = 0
end

if count >= limit then
    redis.call("HSET", key, "window_start", start, "count", count)
    return {0, 0, start + windowMs}
end

count = count + 1
redis.call("HSET", key, "window_start", start, "count", count)
redis.call("PEXPIRE", key, windowMs * 2)
return {1, limit - count, start + windowMs}
`

const decrementScript = `
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
if count > 0 then
    redis.call("HSET", KEYS[1], "count", count - 1)
end
return count
`

// NewRedisWindow creates a shared budget window identified by name.
func NewRedisWindow(client *redis.Client, name string, limit int, duration time.Duration) *RedisWindow {
	if limit <= 0 {
		limit = 1
	}
	if duration <= 0 {
		duration = time.Minute
	}
	return &RedisWindow{
		client:      client,
		key:         fmt.Sprintf("ratelimit:%s", name),
		limit:       limit,
		duration:    duration,
		checkScript: redis.NewScript(checkAndIncrementScript),
		decScript:   redis.NewScript(decrementScript),
		now:         time.Now,
	}
}

// NewRedisWindowFromURL connects to Redis and returns a shared window.
func NewRedisWindowFromURL(redisURL, name string, limit int, duration time.Duration) (*RedisWindow, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisWindow(client, name, limit, duration), nil
}

// CheckAndIncrement implements Limiter.
func (w *RedisWindow) CheckAndIncrement(ctx context.Context) (Decision, error) {
	nowMs := w.now().UnixMilli()
	result, err := w.checkScript.Run(ctx, w.client,
		[]string{w.key},
		w.limit,
		w.duration.Milliseconds(),
		nowMs,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	remaining := int(result[1].(int64))
	resetAt := time.UnixMilli(result[2].(int64))

	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

// Decrement implements Limiter. The guard lives in the script so two
// concurrent refunds cannot drive the count negative.
func (w *RedisWindow) Decrement(ctx context.Context) error {
	if err := w.decScript.Run(ctx, w.client, []string{w.key}).Err(); err != nil {
		return fmt.Errorf("rate limit decrement failed: %w", err)
	}
	return nil
}

// Peek implements Limiter.
func (w *RedisWindow) Peek(ctx context.Context) (Info, error) {
	vals, err := w.client.HGetAll(ctx, w.key).Result()
	if err != nil {
		return Info{}, fmt.Errorf("rate limit peek failed: %w", err)
	}

	info := Info{Limit: w.limit, Remaining: w.limit}
	now := w.now()
	info.ResetAt = now.Add(w.duration)

	var start, count int64
	fmt.Sscanf(vals["window_start"], "%d", &start)
	fmt.Sscanf(vals["count"], "%d", &count)

	if start > 0 && now.UnixMilli()-start < w.duration.Milliseconds() {
		info.Remaining = w.limit - int(count)
		if info.Remaining < 0 {
			info.Remaining = 0
		}
		info.ResetAt = time.UnixMilli(start + w.duration.Milliseconds())
	}
	return info, nil
}

// Close closes the underlying Redis connection.
func (w *RedisWindow) Close() error {
	return w.client.Close()
}
