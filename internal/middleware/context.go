// Package middleware 提供HTTP中间件：请求ID、恢复、超时、CORS、认证、访问日志等。
package middleware

import (
	"context"
)

// contextKey 包内私有的上下文键类型，避免与外部键冲突
type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
)

// withRequestID 把请求ID写入上下文
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext 读取上下文中的请求ID；未设置时返回空串
func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return s
	}
	return ""
}
