// Package limiter 提供基于Redis的分布式限流
package limiter

import (
	"context"
	"fmt"
	"time"
)

// Limiter 限流器接口
type Limiter interface {
	// Allow 检查是否允许单个请求通过
	Allow(ctx context.Context, key string) (*LimitResult, error)

	// AllowN 检查是否允许N个请求通过
	AllowN(ctx context.Context, key string, n int64) (*LimitResult, error)

	// Reset 清除key的限流状态
	Reset(ctx context.Context, key string) error
}

// LimitResult 单次限流判定的结果
type LimitResult struct {
	Allowed       bool          `json:"allowed"`        // 是否放行
	Remaining     int64         `json:"remaining"`      // 剩余配额
	RetryAfter    time.Duration `json:"retry_after"`    // 建议重试间隔
	TotalRequests int64         `json:"total_requests"` // 窗口内累计请求数（窗口算法）
}

// Config 限流配置
type Config struct {
	Rate   int64         `json:"rate"`   // 速率：每个窗口允许的请求数
	Window time.Duration `json:"window"` // 时间窗口
	Burst  int64         `json:"burst"`  // 突发容量（令牌桶）

	Precision time.Duration `json:"precision"`  // 子窗口精度（滑动窗口）
	KeyPrefix string        `json:"key_prefix"` // Redis key前缀
}

// LimiterType 限流算法
type LimiterType string

const (
	// TokenBucket 令牌桶：允许突发，按速率补充
	TokenBucket LimiterType = "token_bucket"
	// SlidingWindow 滑动窗口：按子窗口平滑计数
	SlidingWindow LimiterType = "sliding_window"
	// FixedWindow 固定窗口：窗口边界整切
	FixedWindow LimiterType = "fixed_window"
)

// Factory 按算法名创建限流器
type Factory struct {
	redisClient interface{}
}

// NewFactory 创建工厂
func NewFactory(redisClient interface{}) *Factory {
	return &Factory{redisClient: redisClient}
}

// Create 创建指定算法的限流器；未知算法返回错误
func (f *Factory) Create(limiterType LimiterType, config *Config) (Limiter, error) {
	switch limiterType {
	case TokenBucket, "":
		return NewTokenBucketLimiter(f.redisClient, config)
	case SlidingWindow:
		return NewSlidingWindowLimiter(f.redisClient, config)
	case FixedWindow:
		return NewFixedWindowLimiter(f.redisClient, config)
	default:
		return nil, fmt.Errorf("unknown limiter type: %s", limiterType)
	}
}
