package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tbourn/go-study-sidebar/internal/domain"
)

// RedisUsage keeps usage counters in Redis hashes so several server instances
// share one counter per user. Each hash holds used, limit, premium (0/1) and
// last_reset (unix milliseconds). All reads that gate a decision run inside
// Lua scripts, which Redis executes atomically.
type RedisUsage struct {
	client    goredis.Cmdable
	keyPrefix string
}

// RedisUsageOption configures RedisUsage.
type RedisUsageOption func(*RedisUsage)

// WithUsageKeyPrefix sets the key prefix (default "usage:").
func WithUsageKeyPrefix(prefix string) RedisUsageOption {
	return func(r *RedisUsage) { r.keyPrefix = prefix }
}

// NewRedisUsage wraps a connected *goredis.Client or *goredis.ClusterClient.
func NewRedisUsage(client goredis.Cmdable, opts ...RedisUsageOption) *RedisUsage {
	r := &RedisUsage{client: client, keyPrefix: "usage:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisUsage) key(userID string) string { return r.keyPrefix + userID }

// seedScript creates the hash only when absent.
// KEYS[1] = usage hash
// ARGV = used, limit, premium, last_reset
var seedScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "used", ARGV[1], "limit", ARGV[2], "premium", ARGV[3], "last_reset", ARGV[4])
return 1
`)

// resetScript restarts the window when it has elapsed.
// KEYS[1] = usage hash
// ARGV[1] = now (unix ms), ARGV[2] = window (ms)
// Returns {code, used, limit, premium, last_reset}; code -2 missing, 1 reset, 0 no-op.
var resetScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {-2, 0, 0, 0, 0}
end
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local last = tonumber(redis.call("HGET", KEYS[1], "last_reset") or "0")
local code = 0
if now - last >= window then
    redis.call("HSET", KEYS[1], "used", "0", "last_reset", tostring(now))
    code = 1
end
local v = redis.call("HMGET", KEYS[1], "used", "limit", "premium", "last_reset")
return {code, tonumber(v[1]), tonumber(v[2]), tonumber(v[3]), tonumber(v[4])}
`)

// incrementScript performs the lazy reset and the conditional increment.
// KEYS[1] = usage hash
// ARGV[1] = now (unix ms), ARGV[2] = window (ms)
// Returns {code, used, limit, premium, last_reset}; code -2 missing, 1 granted, 0 denied.
var incrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {-2, 0, 0, 0, 0}
end
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local last = tonumber(redis.call("HGET", KEYS[1], "last_reset") or "0")
if now - last >= window then
    redis.call("HSET", KEYS[1], "used", "0", "last_reset", tostring(now))
end
local used = tonumber(redis.call("HGET", KEYS[1], "used") or "0")
local limit = tonumber(redis.call("HGET", KEYS[1], "limit") or "0")
local premium = tonumber(redis.call("HGET", KEYS[1], "premium") or "0")
local code = 0
if premium == 1 or used < limit then
    used = redis.call("HINCRBY", KEYS[1], "used", 1)
    code = 1
end
local last_reset = tonumber(redis.call("HGET", KEYS[1], "last_reset"))
return {code, used, limit, premium, last_reset}
`)

// Seed initializes the hash from the relational row unless it already exists.
func (r *RedisUsage) Seed(ctx context.Context, u Usage) error {
	premium := 0
	if u.SubscriptionStatus == domain.SubscriptionPremium {
		premium = 1
	}
	_, err := seedScript.Run(ctx, r.client, []string{r.key(u.UserID)},
		u.EnhancementsUsed, u.EnhancementsLimit, premium, u.LastResetAt.UnixMilli(),
	).Result()
	if err != nil {
		return fmt.Errorf("repo/redis: seed: %w", err)
	}
	return nil
}

// SetPlan updates the plan fields of an existing hash. Missing hashes are
// left alone; they are seeded from the relational row on next access.
func (r *RedisUsage) SetPlan(ctx context.Context, userID string, premium bool, limit int) error {
	k := r.key(userID)
	n, err := r.client.Exists(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("repo/redis: exists: %w", err)
	}
	if n == 0 {
		return nil
	}
	p := 0
	if premium {
		p = 1
	}
	if err := r.client.HSet(ctx, k, "premium", p, "limit", limit).Err(); err != nil {
		return fmt.Errorf("repo/redis: set plan: %w", err)
	}
	return nil
}

// Get returns the stored counters or ErrNotFound when the hash is missing.
func (r *RedisUsage) Get(ctx context.Context, userID string) (Usage, error) {
	vals, err := r.client.HMGet(ctx, r.key(userID), "used", "limit", "premium", "last_reset").Result()
	if err != nil {
		return Usage{}, fmt.Errorf("repo/redis: get: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return Usage{}, ErrNotFound
	}
	nums := make([]int64, len(vals))
	for i, v := range vals {
		s, _ := v.(string)
		nums[i], _ = strconv.ParseInt(s, 10, 64)
	}
	return usageFromInts(userID, nums), nil
}

// ResetIfDue restarts the window when it has elapsed and reports whether it did.
func (r *RedisUsage) ResetIfDue(ctx context.Context, userID string, now time.Time, window time.Duration) (bool, Usage, error) {
	code, u, err := r.run(ctx, resetScript, userID, now, window)
	if err != nil {
		return false, Usage{}, err
	}
	return code == 1, u, nil
}

// IncrementIfAllowed reports whether one enhancement was granted, together
// with the counters after the call.
func (r *RedisUsage) IncrementIfAllowed(ctx context.Context, userID string, now time.Time, window time.Duration) (bool, Usage, error) {
	code, u, err := r.run(ctx, incrementScript, userID, now, window)
	if err != nil {
		return false, Usage{}, err
	}
	return code == 1, u, nil
}

func (r *RedisUsage) run(ctx context.Context, script *goredis.Script, userID string, now time.Time, window time.Duration) (int64, Usage, error) {
	res, err := script.Run(ctx, r.client, []string{r.key(userID)}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, Usage{}, fmt.Errorf("repo/redis: script: %w", err)
	}
	if len(res) != 5 {
		return 0, Usage{}, fmt.Errorf("repo/redis: unexpected script result length %d", len(res))
	}
	if res[0] == -2 {
		return 0, Usage{}, ErrNotFound
	}
	return res[0], usageFromInts(userID, res[1:]), nil
}

// usageFromInts maps {used, limit, premium, last_reset_ms} to Usage.
func usageFromInts(userID string, v []int64) Usage {
	status := domain.SubscriptionFreemium
	if v[2] == 1 {
		status = domain.SubscriptionPremium
	}
	return Usage{
		UserID:             userID,
		EnhancementsUsed:   int(v[0]),
		EnhancementsLimit:  int(v[1]),
		SubscriptionStatus: status,
		LastResetAt:        time.UnixMilli(v[3]).UTC(),
	}
}
