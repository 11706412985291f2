package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// AuthHandler 令牌相关的HTTP处理器。
// 账号与登录由外部身份服务负责，这里只提供令牌刷新。
type AuthHandler struct {
	jwtService service.JWTService
	logger     *zap.Logger
}

// NewAuthHandler 创建令牌处理器实例
func NewAuthHandler(jwtService service.JWTService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		jwtService: jwtService,
		logger:     logger,
	}
}

// RefreshToken 用刷新令牌换取新令牌对
// POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	if req.RefreshToken == "" {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "refresh_token is required", reqID, "")
		return
	}

	pair, err := h.jwtService.RefreshTokenPair(req.RefreshToken)
	if err != nil {
		h.logger.Warn("refresh token failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "invalid refresh token", reqID, "")
		return
	}

	resp.OK(w, pair, reqID, "")
}
