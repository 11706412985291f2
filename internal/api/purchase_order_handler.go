package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// 采购单路由的ID位于路径第五段：/api/v1/purchase-orders/{id}/...
const poPathIDIndex = 4

// PurchaseOrderHandler 采购单相关的HTTP处理器
type PurchaseOrderHandler struct {
	poService service.PurchaseOrderService
	logger    *zap.Logger
}

// NewPurchaseOrderHandler 创建采购单处理器实例
func NewPurchaseOrderHandler(poService service.PurchaseOrderService, logger *zap.Logger) *PurchaseOrderHandler {
	return &PurchaseOrderHandler{
		poService: poService,
		logger:    logger,
	}
}

// Create 创建采购单（submit为真时直接提交）
// POST /api/v1/purchase-orders
func (h *PurchaseOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var req domain.CreatePurchaseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	req.IdempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	req.RequestID = reqID

	po, err := h.poService.Create(r.Context(), actor, &req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "create purchase order", err)
		return
	}

	resp.OK(w, po, reqID, "")
}

// Get 获取采购单详情（含行）
// GET /api/v1/purchase-orders/{id}
func (h *PurchaseOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	poID, ok := pathID(r, poPathIDIndex)
	if !ok {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid purchase order ID", reqID, "")
		return
	}

	po, err := h.poService.GetByID(r.Context(), actor, poID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "get purchase order", err)
		return
	}

	resp.OK(w, po, reqID, "")
}

// List 查询采购单列表
// GET /api/v1/purchase-orders?store_id=1&status=APPROVED&page=1&page_size=20
func (h *PurchaseOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var storeID int64
	if v := queryInt64(r, "store_id"); v != nil {
		storeID = *v
	}
	status := domain.POStatus(r.URL.Query().Get("status"))
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	orders, total, err := h.poService.List(r.Context(), actor, storeID, status, page, pageSize)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "list purchase orders", err)
		return
	}

	result := map[string]interface{}{
		"orders":    orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}
	resp.OK(w, &result, reqID, "")
}

// Submit 提交采购单（DRAFT → SUBMITTED）
// POST /api/v1/purchase-orders/{id}/submit
func (h *PurchaseOrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "submit purchase order", h.poService.Submit)
}

// Approve 审批采购单（SUBMITTED → APPROVED），在途量随之登记
// POST /api/v1/purchase-orders/{id}/approve
// 需要管理员权限
func (h *PurchaseOrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve purchase order", h.poService.Approve)
}

// Cancel 取消未收货的采购单
// POST /api/v1/purchase-orders/{id}/cancel
func (h *PurchaseOrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel purchase order", h.poService.Cancel)
}

// Receive 采购单收货（支持部分收货和包装单位折算）
// POST /api/v1/purchase-orders/{id}/receive
func (h *PurchaseOrderHandler) Receive(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	poID, ok := pathID(r, poPathIDIndex)
	if !ok {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid purchase order ID", reqID, "")
		return
	}

	var req domain.ReceivePurchaseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	req.PurchaseOrderID = poID
	req.IdempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	req.RequestID = reqID

	po, err := h.poService.Receive(r.Context(), actor, &req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "receive purchase order", err)
		return
	}

	resp.OK(w, po, reqID, "")
}

// Rollback 回滚已收货的采购单：写补偿负调整并取消订单
// POST /api/v1/purchase-orders/{id}/rollback
// 需要管理员权限
func (h *PurchaseOrderHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	poID, ok := pathID(r, poPathIDIndex)
	if !ok {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid purchase order ID", reqID, "")
		return
	}

	idemKey := middleware.IdempotencyKeyFromContext(r.Context())
	po, err := h.poService.Rollback(r.Context(), actor, poID, idemKey, reqID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "rollback purchase order", err)
		return
	}

	resp.OK(w, po, reqID, "")
}

// ReorderDrafts 按补货建议批量生成草稿采购单（按供应商分组）
// POST /api/v1/purchase-orders/reorder-drafts
func (h *PurchaseOrderHandler) ReorderDrafts(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var req domain.ReorderDraftsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	req.IdempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	req.RequestID = reqID

	orders, err := h.poService.CreateDraftsFromReorder(r.Context(), actor, &req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "create reorder drafts", err)
		return
	}

	resp.OK(w, orders, reqID, "")
}

// transition 处理无请求体的状态流转请求
func (h *PurchaseOrderHandler) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error)) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	poID, ok := pathID(r, poPathIDIndex)
	if !ok {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid purchase order ID", reqID, "")
		return
	}

	po, err := fn(r.Context(), actor, poID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, op, err)
		return
	}

	resp.OK(w, po, reqID, "")
}
