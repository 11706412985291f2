// Package middleware 提供幂等键提取中间件
package middleware

import (
	"context"
	"net/http"
)

const (
	// HeaderIdempotencyKey 客户端为每个变更请求携带的幂等键头
	HeaderIdempotencyKey = "X-Idempotency-Key"

	contextKeyIdempotency contextKey = "idempotency_key"
)

// IdempotencyKey 把幂等键从请求头提取到上下文。
// 键是否必需由各处理器判定：变更操作缺键会被参数校验拒绝，
// 这里不自动生成键——自动生成的键无法提供跨重试的去重保证。
func IdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderIdempotencyKey)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdempotencyKeyFromContext 从上下文读取幂等键（可能为空）
func IdempotencyKeyFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyIdempotency); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
