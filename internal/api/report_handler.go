package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// ReportHandler 报表相关的HTTP处理器。
// 报表都是账本和快照的只读消费，不加幂等保护。
type ReportHandler struct {
	reportService service.ReportService
	logger        *zap.Logger
}

// NewReportHandler 创建报表处理器实例
func NewReportHandler(reportService service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		logger:        logger,
	}
}

// Stockouts 缺货清单
// GET /api/v1/reports/stockouts?store_id=1
func (h *ReportHandler) Stockouts(w http.ResponseWriter, r *http.Request) {
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

	items, err := h.reportService.Stockouts(r.Context(), actor, storeID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "stockouts report", err)
		return
	}

	resp.OK(w, items, reqID, "")
}

// SlowMovers 滞销商品清单
// GET /api/v1/reports/slow-movers?store_id=1&window_days=30&limit=100
func (h *ReportHandler) SlowMovers(w http.ResponseWriter, r *http.Request) {
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
	windowDays := queryInt(r, "window_days", 0)
	limit := queryInt(r, "limit", 0)

	items, err := h.reportService.SlowMovers(r.Context(), actor, storeID, windowDays, limit)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "slow movers report", err)
		return
	}

	resp.OK(w, items, reqID, "")
}

// Shrinkage 损耗汇总（负向手工调整，不含采购回滚补偿）
// GET /api/v1/reports/shrinkage?store_id=1&from=...&to=...
func (h *ReportHandler) Shrinkage(w http.ResponseWriter, r *http.Request) {
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

	items, err := h.reportService.Shrinkage(r.Context(), actor, storeID, queryTime(r, "from"), queryTime(r, "to"))
	if err != nil {
		writeDomainError(w, h.logger, reqID, "shrinkage report", err)
		return
	}

	resp.OK(w, items, reqID, "")
}

// ReorderSuggestions 补货建议（on_hand + on_order < min_stock）
// GET /api/v1/reports/reorder-suggestions?store_id=1
func (h *ReportHandler) ReorderSuggestions(w http.ResponseWriter, r *http.Request) {
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

	items, err := h.reportService.ReorderSuggestions(r.Context(), actor, storeID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "reorder suggestions report", err)
		return
	}

	resp.OK(w, items, reqID, "")
}
