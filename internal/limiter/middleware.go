// Package limiter 限流中间件
package limiter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/stock_ledger/internal/resp"
)

// limiterTimeout 限流判定本身的超时；Redis不可用时不无限阻塞请求
const limiterTimeout = 5 * time.Second

// ActorKeyGenerator 按操作者限流；未认证请求退化为按IP
func ActorKeyGenerator(c *gin.Context) string {
	actorID := c.GetInt64("actor_id")
	if actorID > 0 {
		return fmt.Sprintf("actor:%d", actorID)
	}
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// IPKeyGenerator 按客户端IP限流
func IPKeyGenerator(c *gin.Context) string {
	return fmt.Sprintf("global:%s", c.ClientIP())
}

// RateLimitMiddleware 通用限流中间件。
// keyFn生成限流key；拒绝时返回429并写message，限流器出错时返回500。
func RateLimitMiddleware(lim Limiter, keyFn func(*gin.Context) string, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), limiterTimeout)
		defer cancel()

		result, err := lim.Allow(ctx, keyFn(c))
		if err != nil {
			requestID := c.GetString("request_id")
			resp.Error(c.Writer, http.StatusInternalServerError, resp.CodeInternalError, "限流服务异常", requestID, "")
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
		}

		if !result.Allowed {
			requestID := c.GetString("request_id")
			resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeInvalidParam, message, requestID, "")
			c.Abort()
			return
		}

		c.Next()
	}
}

// MutationRateLimitMiddleware 变更接口限流。
// 调整、收货、调拨等写操作按操作者限流，防止重试风暴打穿数据库行锁。
func MutationRateLimitMiddleware(lim Limiter) gin.HandlerFunc {
	keyFn := func(c *gin.Context) string {
		return "mutation:" + ActorKeyGenerator(c)
	}
	return RateLimitMiddleware(lim, keyFn, "写操作过于频繁，请稍后重试")
}

// GlobalRateLimitMiddleware 全局限流，按客户端IP
func GlobalRateLimitMiddleware(lim Limiter) gin.HandlerFunc {
	return RateLimitMiddleware(lim, IPKeyGenerator, "请求过于频繁，请稍后重试")
}
