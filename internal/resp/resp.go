// Package resp 提供统一的 HTTP 响应封装。
// 所有接口返回同一信封结构：业务码、数据、消息与请求标识。
package resp

import (
	"encoding/json"
	"net/http"
)

// Code 业务响应码
type Code int

// 业务码集合；HTTP 状态码表达传输层结果，业务码表达领域结果。
const (
	CodeOK            Code = 0
	CodeInvalidParam  Code = 1001
	CodeConflict      Code = 1002
	CodeForbidden     Code = 1003
	CodeNotFound      Code = 1004
	CodeInternalError Code = 2001
	CodeTimeout       Code = 2002
	CodeUnavailable   Code = 2003
)

// Envelope 统一响应信封
type Envelope struct {
	Code      Code   `json:"code"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// OK 写入成功响应
func OK(w http.ResponseWriter, data any, requestID, traceID string) {
	writeJSON(w, http.StatusOK, &Envelope{
		Code:      CodeOK,
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// Error 写入错误响应
func Error(w http.ResponseWriter, status int, code Code, message, requestID, traceID string) {
	writeJSON(w, status, &Envelope{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// HTTPStatusFromCode 把业务码映射为 HTTP 状态码
func HTTPStatusFromCode(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, envelope *Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
