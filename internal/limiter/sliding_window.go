// Package limiter 滑动窗口限流器
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter 分片计数的滑动窗口。
// 窗口按Precision切成子窗口分别计数，判定时汇总仍在窗口内的子窗口，
// 比固定窗口平滑，不受窗口边界突发影响。
type SlidingWindowLimiter struct {
	client    redis.Cmdable
	config    *Config
	keyPrefix string
}

// NewSlidingWindowLimiter 创建滑动窗口限流器
func NewSlidingWindowLimiter(redisClient interface{}, config *Config) (*SlidingWindowLimiter, error) {
	client, ok := redisClient.(redis.Cmdable)
	if !ok {
		return nil, fmt.Errorf("invalid redis client type")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "limiter:sw"
	}
	if config.Precision == 0 {
		config.Precision = config.Window / 10
	}

	return &SlidingWindowLimiter{
		client:    client,
		config:    config,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// 子窗口key带槽位后缀，过期由EXPIRE兜底；返回{放行, 剩余, 重试秒数, 窗口内计数}
const slidingWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local precision = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local slots = math.ceil(window / precision)
local slot_size = window / slots
local cutoff = now - window

-- 汇总仍在窗口内的子窗口计数
local total = 0
for i = 0, slots - 1 do
    local slot_start = now - i * slot_size
    if slot_start >= cutoff then
        local slot_key = key .. ":" .. math.floor(slot_start / slot_size)
        total = total + tonumber(redis.call('GET', slot_key) or 0)
    end
end

if total + requested > limit then
    local retry_after = math.ceil(slot_size)
    if retry_after < 1 then
        retry_after = 1
    end
    return {0, math.max(0, limit - total), retry_after, total}
end

local current_key = key .. ":" .. math.floor(now / slot_size)
redis.call('INCRBY', current_key, requested)
redis.call('EXPIRE', current_key, window + precision)

total = total + requested
return {1, limit - total, 0, total}
`

func (sw *SlidingWindowLimiter) getKey(key string) string {
	return fmt.Sprintf("%s:%s", sw.keyPrefix, key)
}

// Allow 检查是否允许单个请求通过
func (sw *SlidingWindowLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return sw.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许N个请求通过
func (sw *SlidingWindowLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	result := sw.client.Eval(ctx, slidingWindowScript,
		[]string{sw.getKey(key)},
		sw.config.Rate,
		int64(sw.config.Window.Seconds()),
		int64(sw.config.Precision.Seconds()),
		n,
		time.Now().Unix(),
	)
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to execute sliding window script: %w", result.Err())
	}

	values, ok := result.Val().([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	return &LimitResult{
		Allowed:       values[0].(int64) == 1,
		Remaining:     values[1].(int64),
		RetryAfter:    time.Duration(values[2].(int64)) * time.Second,
		TotalRequests: values[3].(int64),
	}, nil
}

// Reset 删除key的所有子窗口计数
func (sw *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	pattern := sw.getKey(key) + ":*"
	iter := sw.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan window keys: %w", err)
	}

	if len(keys) > 0 {
		if err := sw.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete window keys: %w", err)
		}
	}
	return nil
}
