package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// InventoryHandler 库存账本相关的HTTP处理器
type InventoryHandler struct {
	inventoryService service.InventoryService
	logger           *zap.Logger
}

// NewInventoryHandler 创建库存处理器实例
func NewInventoryHandler(inventoryService service.InventoryService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
		logger:           logger,
	}
}

// AdjustStock 手工调整库存
// POST /api/v1/inventory/adjust
func (h *InventoryHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var req domain.AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	req.IdempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	req.RequestID = reqID

	position, err := h.inventoryService.AdjustStock(r.Context(), actor, &req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "adjust stock", err)
		return
	}

	resp.OK(w, position, reqID, "")
}

// ReceiveStock 散货入库（不经采购单）
// POST /api/v1/inventory/receive
func (h *InventoryHandler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var req domain.ReceiveStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	req.IdempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	req.RequestID = reqID

	position, err := h.inventoryService.ReceiveStock(r.Context(), actor, &req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "receive stock", err)
		return
	}

	resp.OK(w, position, reqID, "")
}

// TransferStock 跨门店调拨
// POST /api/v1/inventory/transfer
func (h *InventoryHandler) TransferStock(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var req domain.TransferStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}
	req.IdempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	req.RequestID = reqID

	result, err := h.inventoryService.TransferStock(r.Context(), actor, &req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "transfer stock", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

// RecomputeSnapshots 从账本全量重建门店快照
// POST /api/v1/inventory/recompute
// 需要管理员权限
func (h *InventoryHandler) RecomputeSnapshots(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	var req struct {
		StoreID int64 `json:"store_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}

	result, err := h.inventoryService.RecomputeSnapshots(r.Context(), actor, req.StoreID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "recompute snapshots", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

// GetSnapshot 查询单个键的库存快照
// GET /api/v1/inventory/snapshot?store_id=1&product_id=2&variant_id=3
func (h *InventoryHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	storeID := queryInt64(r, "store_id")
	productID := queryInt64(r, "product_id")
	if storeID == nil || productID == nil {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "store_id and product_id are required", reqID, "")
		return
	}

	snapshot, err := h.inventoryService.GetSnapshot(r.Context(), actor, *storeID, *productID, queryInt64(r, "variant_id"))
	if err != nil {
		writeDomainError(w, h.logger, reqID, "get snapshot", err)
		return
	}

	resp.OK(w, snapshot, reqID, "")
}

// ListSnapshots 查询门店库存快照
// GET /api/v1/inventory/snapshots?store_id=1&product_id=2&below_min=true&page=1&page_size=20
func (h *InventoryHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	req := &domain.SnapshotListRequest{
		ProductID: queryInt64(r, "product_id"),
		BelowMin:  queryBool(r, "below_min"),
		Page:      queryInt(r, "page", 1),
		PageSize:  queryInt(r, "page_size", 20),
	}
	if storeID := queryInt64(r, "store_id"); storeID != nil {
		req.StoreID = *storeID
	}
	if onlyNonZero := queryBool(r, "only_non_zero"); onlyNonZero != nil {
		req.OnlyNonZero = *onlyNonZero
	}
	if sortBy := r.URL.Query().Get("sort_by"); sortBy != "" {
		req.SortBy = &sortBy
	}
	if sortOrder := r.URL.Query().Get("sort_order"); sortOrder != "" {
		req.SortOrder = &sortOrder
	}

	result, err := h.inventoryService.ListSnapshots(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "list snapshots", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

// ListMovements 查询库存变动账本
// GET /api/v1/inventory/movements?store_id=1&product_id=2&type=RECEIVE&from=...&to=...
func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	req := &domain.StockMovementListRequest{
		ProductID: queryInt64(r, "product_id"),
		Type:      domain.MovementType(r.URL.Query().Get("type")),
		From:      queryTime(r, "from"),
		To:        queryTime(r, "to"),
		Page:      queryInt(r, "page", 1),
		PageSize:  queryInt(r, "page_size", 20),
	}
	if storeID := queryInt64(r, "store_id"); storeID != nil {
		req.StoreID = *storeID
	}

	result, err := h.inventoryService.ListMovements(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "list movements", err)
		return
	}

	resp.OK(w, result, reqID, "")
}

// ListLots 查询门店内某商品的到期批次
// GET /api/v1/inventory/lots?store_id=1&product_id=2&variant_id=3
func (h *InventoryHandler) ListLots(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeInvalidParam, "authentication required", reqID, "")
		return
	}

	storeID := queryInt64(r, "store_id")
	productID := queryInt64(r, "product_id")
	if storeID == nil || productID == nil {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "store_id and product_id are required", reqID, "")
		return
	}

	lots, err := h.inventoryService.ListLots(r.Context(), actor, *storeID, *productID, queryInt64(r, "variant_id"))
	if err != nil {
		writeDomainError(w, h.logger, reqID, "list lots", err)
		return
	}

	resp.OK(w, lots, reqID, "")
}
