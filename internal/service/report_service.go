package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// 报表默认窗口
const (
	defaultSlowMoverWindow = 30 * 24 * time.Hour
	defaultShrinkageWindow = 30 * 24 * time.Hour
	defaultSlowMoverLimit  = 100
)

// ReportService 定义报表侧只读接口。
// 报表从快照与账本读数，绝不反向写入。
type ReportService interface {
	Stockouts(ctx context.Context, actor *domain.Actor, storeID int64) ([]*domain.StockoutItem, error)
	// SlowMovers 返回 windowDays 天内没有动账的在库键；windowDays <= 0 时取默认窗口
	SlowMovers(ctx context.Context, actor *domain.Actor, storeID int64, windowDays, limit int) ([]*domain.SlowMoverItem, error)
	// Shrinkage 汇总窗口内的损耗；from/to 为空时取最近的默认窗口
	Shrinkage(ctx context.Context, actor *domain.Actor, storeID int64, from, to *time.Time) ([]*domain.ShrinkageItem, error)
	ReorderSuggestions(ctx context.Context, actor *domain.Actor, storeID int64) ([]*domain.ReorderSuggestion, error)
}

// reportService 实现 ReportService 接口
type reportService struct {
	reports repo.ReportRepository
	logger  *zap.Logger
}

// NewReportService 创建报表服务实例
func NewReportService(reports repo.ReportRepository, logger *zap.Logger) ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &reportService{reports: reports, logger: logger}
}

// Stockouts 缺货报表
func (s *reportService) Stockouts(ctx context.Context, actor *domain.Actor, storeID int64) ([]*domain.StockoutItem, error) {
	if storeID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}
	return s.reports.Stockouts(ctx, actor.OrganizationID, storeID)
}

// SlowMovers 滞销报表
func (s *reportService) SlowMovers(ctx context.Context, actor *domain.Actor, storeID int64, windowDays, limit int) ([]*domain.SlowMoverItem, error) {
	if storeID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}

	window := defaultSlowMoverWindow
	if windowDays > 0 {
		window = time.Duration(windowDays) * 24 * time.Hour
	}
	if limit <= 0 {
		limit = defaultSlowMoverLimit
	}

	since := time.Now().Add(-window)
	return s.reports.SlowMovers(ctx, actor.OrganizationID, storeID, since, limit)
}

// Shrinkage 损耗报表
func (s *reportService) Shrinkage(ctx context.Context, actor *domain.Actor, storeID int64, from, to *time.Time) ([]*domain.ShrinkageItem, error) {
	if storeID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}

	end := time.Now()
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultShrinkageWindow)
	if from != nil {
		start = *from
	}
	if !start.Before(end) {
		return nil, domain.NewError(domain.KindValidation, "report window start must precede end")
	}

	return s.reports.Shrinkage(ctx, actor.OrganizationID, storeID, start, end)
}

// ReorderSuggestions 补货建议报表
func (s *reportService) ReorderSuggestions(ctx context.Context, actor *domain.Actor, storeID int64) ([]*domain.ReorderSuggestion, error) {
	if storeID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}
	return s.reports.ReorderSuggestions(ctx, actor.OrganizationID, storeID)
}
