package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// ReportRepository 定义报表侧的只读查询接口。
// 报表直接消费快照与账本，不参与任何变更事务。
type ReportRepository interface {
	// Stockouts 返回在手量打到零或以下的键
	Stockouts(ctx context.Context, orgID, storeID int64) ([]*domain.StockoutItem, error)
	// SlowMovers 返回有库存但自 since 起没有任何账目的键
	SlowMovers(ctx context.Context, orgID, storeID int64, since time.Time, limit int) ([]*domain.SlowMoverItem, error)
	// Shrinkage 汇总窗口内各键的负向调整量及按均价的估值
	Shrinkage(ctx context.Context, orgID, storeID int64, from, to time.Time) ([]*domain.ShrinkageItem, error)
	// ReorderSuggestions 返回在手+在途低于补货水位的键及建议补货量
	ReorderSuggestions(ctx context.Context, orgID, storeID int64) ([]*domain.ReorderSuggestion, error)
}

// reportRepo 实现 ReportRepository 接口
type reportRepo struct {
	q dbtx
}

// NewReportRepository 创建报表仓储实例
func NewReportRepository(q dbtx) ReportRepository {
	return &reportRepo{q: q}
}

// Stockouts 缺货键查询
func (r *reportRepo) Stockouts(ctx context.Context, orgID, storeID int64) ([]*domain.StockoutItem, error) {
	query := `
		SELECT store_id, product_id, variant_key, on_hand, on_order, min_stock
		FROM inventory_snapshot
		WHERE organization_id = ? AND store_id = ? AND on_hand <= 0
		ORDER BY on_hand ASC, product_id
	`

	rows, err := r.q.QueryContext(ctx, query, orgID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stockouts: %w", err)
	}
	defer rows.Close()

	var items []*domain.StockoutItem
	for rows.Next() {
		item := &domain.StockoutItem{}
		err := rows.Scan(
			&item.StoreID,
			&item.ProductID,
			&item.VariantKey,
			&item.OnHand,
			&item.OnOrder,
			&item.MinStock,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stockout item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SlowMovers 滞销键查询。
// LEFT JOIN 账本取每个键的最后动账时间；从未动账的键
// last_movement_at 为 NULL，同样视为滞销。
func (r *reportRepo) SlowMovers(ctx context.Context, orgID, storeID int64, since time.Time, limit int) ([]*domain.SlowMoverItem, error) {
	query := `
		SELECT s.store_id, s.product_id, s.variant_key, s.on_hand, m.last_movement_at
		FROM inventory_snapshot s
		LEFT JOIN (
			SELECT store_id, product_id, variant_key, MAX(created_at) AS last_movement_at
			FROM stock_movement
			WHERE organization_id = ? AND store_id = ?
			GROUP BY store_id, product_id, variant_key
		) m ON m.store_id = s.store_id AND m.product_id = s.product_id AND m.variant_key = s.variant_key
		WHERE s.organization_id = ? AND s.store_id = ? AND s.on_hand > 0
			AND (m.last_movement_at IS NULL OR m.last_movement_at < ?)
		ORDER BY m.last_movement_at IS NULL DESC, m.last_movement_at ASC
		LIMIT ?
	`

	rows, err := r.q.QueryContext(ctx, query, orgID, storeID, orgID, storeID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query slow movers: %w", err)
	}
	defer rows.Close()

	var items []*domain.SlowMoverItem
	for rows.Next() {
		item := &domain.SlowMoverItem{}
		err := rows.Scan(
			&item.StoreID,
			&item.ProductID,
			&item.VariantKey,
			&item.OnHand,
			&item.LastMovementAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slow mover item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Shrinkage 损耗汇总。
// 只统计负向调整（盘亏、损耗、纠错扣减）；采购回滚的补偿调整
// 通过 reference_type 排除，避免把冲销算进损耗。
func (r *reportRepo) Shrinkage(ctx context.Context, orgID, storeID int64, from, to time.Time) ([]*domain.ShrinkageItem, error) {
	query := `
		SELECT m.store_id, m.product_id, m.variant_key,
			SUM(-m.qty_delta) AS qty_lost,
			COALESCE(SUM(-m.qty_delta) * MAX(c.avg_cost), 0) AS estimated_loss
		FROM stock_movement m
		LEFT JOIN product_cost c
			ON c.organization_id = m.organization_id
			AND c.product_id = m.product_id
			AND c.variant_key = m.variant_key
		WHERE m.organization_id = ? AND m.store_id = ?
			AND m.type = ? AND m.qty_delta < 0
			AND (m.reference_type IS NULL OR m.reference_type <> ?)
			AND m.created_at >= ? AND m.created_at < ?
		GROUP BY m.store_id, m.product_id, m.variant_key
		ORDER BY qty_lost DESC
	`

	rows, err := r.q.QueryContext(ctx, query,
		orgID, storeID,
		string(domain.MovementAdjustment), domain.ReferenceTypeRollback,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query shrinkage: %w", err)
	}
	defer rows.Close()

	var items []*domain.ShrinkageItem
	for rows.Next() {
		item := &domain.ShrinkageItem{}
		err := rows.Scan(
			&item.StoreID,
			&item.ProductID,
			&item.VariantKey,
			&item.QtyLost,
			&item.EstimatedLoss,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shrinkage item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReorderSuggestions 补货建议查询。
// 建议量 = min_stock - on_hand - on_order，把键补回水位；
// 供应商从商品档案带出，供按供应商分组建草稿单。
func (r *reportRepo) ReorderSuggestions(ctx context.Context, orgID, storeID int64) ([]*domain.ReorderSuggestion, error) {
	query := `
		SELECT s.store_id, s.product_id, s.variant_key, p.supplier_id,
			s.on_hand, s.on_order, s.min_stock,
			s.min_stock - s.on_hand - s.on_order AS qty_suggested
		FROM inventory_snapshot s
		JOIN product p ON p.organization_id = s.organization_id AND p.id = s.product_id
		WHERE s.organization_id = ? AND s.store_id = ?
			AND s.min_stock > 0
			AND s.on_hand + s.on_order < s.min_stock
		ORDER BY qty_suggested DESC, s.product_id
	`

	rows, err := r.q.QueryContext(ctx, query, orgID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reorder suggestions: %w", err)
	}
	defer rows.Close()

	var items []*domain.ReorderSuggestion
	for rows.Next() {
		item := &domain.ReorderSuggestion{}
		err := rows.Scan(
			&item.StoreID,
			&item.ProductID,
			&item.VariantKey,
			&item.SupplierID,
			&item.OnHand,
			&item.OnOrder,
			&item.MinStock,
			&item.QtySuggested,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reorder suggestion: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
