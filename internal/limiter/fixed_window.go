// Package limiter 固定窗口限流器
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindowLimiter 固定窗口计数器。
// 每个窗口一个计数key，窗口边界整切；实现最简单，边界处可能放行双倍突发。
type FixedWindowLimiter struct {
	client    redis.Cmdable
	config    *Config
	keyPrefix string
}

// NewFixedWindowLimiter 创建固定窗口限流器
func NewFixedWindowLimiter(redisClient interface{}, config *Config) (*FixedWindowLimiter, error) {
	client, ok := redisClient.(redis.Cmdable)
	if !ok {
		return nil, fmt.Errorf("invalid redis client type")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "limiter:fw"
	}

	return &FixedWindowLimiter{
		client:    client,
		config:    config,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// 计数key带窗口起点后缀；返回{放行, 剩余, 重试秒数, 窗口内计数}
const fixedWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local window_start = math.floor(now / window) * window
local window_key = key .. ":" .. window_start
local current = tonumber(redis.call('GET', window_key) or 0)

if current + requested > limit then
    local retry_after = window_start + window - now
    return {0, math.max(0, limit - current), retry_after, current}
end

local count = redis.call('INCRBY', window_key, requested)
redis.call('EXPIRE', window_key, window)
return {1, limit - count, 0, count}
`

func (fw *FixedWindowLimiter) getKey(key string) string {
	return fmt.Sprintf("%s:%s", fw.keyPrefix, key)
}

// Allow 检查是否允许单个请求通过
func (fw *FixedWindowLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return fw.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许N个请求通过
func (fw *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	result := fw.client.Eval(ctx, fixedWindowScript,
		[]string{fw.getKey(key)},
		fw.config.Rate,
		int64(fw.config.Window.Seconds()),
		n,
		time.Now().Unix(),
	)
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to execute fixed window script: %w", result.Err())
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

// Reset 删除key的所有窗口计数
func (fw *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	pattern := fw.getKey(key) + ":*"
	iter := fw.client.Scan(ctx, 0, pattern, 0).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan window keys: %w", err)
	}

	if len(keys) > 0 {
		if err := fw.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete window keys: %w", err)
		}
	}
	return nil
}
