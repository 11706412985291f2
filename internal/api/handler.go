// Package api 提供库存账本与采购相关的HTTP API处理器实现。
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/resp"
)

// writeDomainError 把业务错误分类映射为HTTP响应。
// 未分类的错误视为内部错误，只记日志不向客户端泄露细节。
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, reqID, op string, err error) {
	var code resp.Code
	switch domain.KindOf(err) {
	case domain.KindValidation:
		code = resp.CodeInvalidParam
	case domain.KindConflict:
		code = resp.CodeConflict
	case domain.KindForbidden:
		code = resp.CodeForbidden
	case domain.KindNotFound:
		code = resp.CodeNotFound
	case domain.KindTransient:
		code = resp.CodeUnavailable
	default:
		logger.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, op+" failed", reqID, "")
		return
	}

	logger.Warn(op+" rejected",
		zap.String("request_id", reqID),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	)
	resp.Error(w, resp.HTTPStatusFromCode(code), code, err.Error(), reqID, "")
}

// pathID 从URL路径的指定段提取数字ID
func pathID(r *http.Request, index int) (int64, bool) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) <= index {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[index], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryInt64 解析查询参数中的int64值，缺失或非法时返回nil
func queryInt64(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// queryInt 解析查询参数中的int值，缺失或非法时返回默认值
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// queryBool 解析查询参数中的bool值，缺失或非法时返回nil
func queryBool(r *http.Request, name string) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// queryTime 解析RFC3339格式的时间查询参数，缺失或非法时返回nil
func queryTime(r *http.Request, name string) *time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
