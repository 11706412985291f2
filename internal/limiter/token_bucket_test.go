package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis 在内存里模拟令牌桶脚本的执行。
// 嵌入 redis.Cmdable 以满足接口，未覆写的方法不会被调用。
type fakeRedis struct {
	redis.Cmdable
	tokens  map[string]int64
	lastKey string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{tokens: make(map[string]int64)}
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx, "eval")
	if len(keys) != 1 || len(args) != 5 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	f.lastKey = keys[0]

	capacity := args[0].(int64)
	requested := args[3].(int64)

	tokens, ok := f.tokens[keys[0]]
	if !ok {
		tokens = capacity
	}

	if tokens >= requested {
		tokens -= requested
		f.tokens[keys[0]] = tokens
		cmd.SetVal([]interface{}{int64(1), tokens, int64(0)})
	} else {
		f.tokens[keys[0]] = tokens
		cmd.SetVal([]interface{}{int64(0), tokens, int64(1)})
	}
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "del")
	var count int64
	for _, key := range keys {
		if _, ok := f.tokens[key]; ok {
			delete(f.tokens, key)
			count++
		}
	}
	cmd.SetVal(count)
	return cmd
}

func TestNewTokenBucketLimiter(t *testing.T) {
	client := newFakeRedis()

	limiter, err := NewTokenBucketLimiter(client, &Config{Rate: 10, Window: time.Minute, Burst: 20, KeyPrefix: "test:tb"})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter failed: %v", err)
	}
	if limiter.keyPrefix != "test:tb" {
		t.Errorf("keyPrefix = %q, want test:tb", limiter.keyPrefix)
	}

	defaulted, err := NewTokenBucketLimiter(client, &Config{Rate: 10, Window: time.Minute, Burst: 20})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter failed: %v", err)
	}
	if defaulted.keyPrefix != "limiter:tb" {
		t.Errorf("empty prefix must default to limiter:tb, got %q", defaulted.keyPrefix)
	}

	if _, err := NewTokenBucketLimiter("not a redis client", &Config{Rate: 1, Window: time.Second, Burst: 1}); err == nil {
		t.Error("expected error for non-redis client")
	}
}

func TestFactory_Create(t *testing.T) {
	factory := NewFactory(newFakeRedis())
	config := &Config{Rate: 10, Window: time.Minute, Burst: 10}

	for _, algo := range []LimiterType{TokenBucket, SlidingWindow, FixedWindow, ""} {
		if _, err := factory.Create(algo, &Config{Rate: 10, Window: time.Minute, Burst: 10}); err != nil {
			t.Errorf("Create(%q) failed: %v", algo, err)
		}
	}

	if _, err := factory.Create("leaky_bucket", config); err == nil {
		t.Error("unknown algorithm must be rejected")
	}
}

func TestTokenBucketLimiter_Allow(t *testing.T) {
	client := newFakeRedis()
	limiter, err := NewTokenBucketLimiter(client, &Config{Rate: 3, Window: time.Minute, Burst: 3, KeyPrefix: "test:tb"})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "actor:1")
		if err != nil {
			t.Fatalf("Allow #%d failed: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d within burst must be allowed", i+1)
		}
		if result.Remaining != int64(2-i) {
			t.Errorf("request %d: remaining = %d, want %d", i+1, result.Remaining, 2-i)
		}
	}

	denied, err := limiter.Allow(ctx, "actor:1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if denied.Allowed {
		t.Error("request beyond burst must be denied")
	}
	if denied.RetryAfter <= 0 {
		t.Error("denied result must carry a positive retry hint")
	}

	if client.lastKey != "test:tb:actor:1" {
		t.Errorf("redis key = %q, want prefix applied", client.lastKey)
	}

	// 其他键不受影响
	other, err := limiter.Allow(ctx, "actor:2")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !other.Allowed {
		t.Error("independent key must have its own bucket")
	}
}

func TestTokenBucketLimiter_AllowN(t *testing.T) {
	client := newFakeRedis()
	limiter, err := NewTokenBucketLimiter(client, &Config{Rate: 10, Window: time.Minute, Burst: 10, KeyPrefix: "test:tb"})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter failed: %v", err)
	}

	result, err := limiter.AllowN(context.Background(), "actor:1", 8)
	if err != nil {
		t.Fatalf("AllowN failed: %v", err)
	}
	if !result.Allowed || result.Remaining != 2 {
		t.Errorf("expected allowed with remaining 2, got %+v", result)
	}

	result, err = limiter.AllowN(context.Background(), "actor:1", 5)
	if err != nil {
		t.Fatalf("AllowN failed: %v", err)
	}
	if result.Allowed {
		t.Error("5 tokens from a bucket holding 2 must be denied")
	}
}

func TestTokenBucketLimiter_Reset(t *testing.T) {
	client := newFakeRedis()
	limiter, err := NewTokenBucketLimiter(client, &Config{Rate: 1, Window: time.Minute, Burst: 1, KeyPrefix: "test:tb"})
	if err != nil {
		t.Fatalf("NewTokenBucketLimiter failed: %v", err)
	}

	ctx := context.Background()
	if result, _ := limiter.Allow(ctx, "actor:1"); !result.Allowed {
		t.Fatal("first request must pass")
	}
	if result, _ := limiter.Allow(ctx, "actor:1"); result.Allowed {
		t.Fatal("bucket of one must be empty now")
	}

	if err := limiter.Reset(ctx, "actor:1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if result, _ := limiter.Allow(ctx, "actor:1"); !result.Allowed {
		t.Error("reset must refill the bucket")
	}
}
