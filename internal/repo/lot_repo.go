package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// LotRepository 定义到期批次数据访问接口
type LotRepository interface {
	// UpsertIncrement 为指定键和到期日增加批次数量，不存在则创建
	UpsertIncrement(ctx context.Context, orgID int64, key domain.SnapshotKey, expiryDate time.Time, qty int64) error
	// ListForUpdate 按到期日升序（FEFO）锁定并返回键下所有正数量批次
	ListForUpdate(ctx context.Context, orgID int64, key domain.SnapshotKey) ([]*domain.StockLot, error)
	List(ctx context.Context, orgID int64, key domain.SnapshotKey) ([]*domain.StockLot, error)
	// SetQty 写回批次数量；归零的批次保留行，留存批次履历
	SetQty(ctx context.Context, lotID, qty int64) error
}

// lotRepo 实现 LotRepository 接口
type lotRepo struct {
	q dbtx
}

// NewLotRepository 创建批次仓储实例
func NewLotRepository(q dbtx) LotRepository {
	return &lotRepo{q: q}
}

// UpsertIncrement 创建或累加批次数量
func (r *lotRepo) UpsertIncrement(ctx context.Context, orgID int64, key domain.SnapshotKey, expiryDate time.Time, qty int64) error {
	query := `
		INSERT INTO stock_lot (organization_id, store_id, product_id, variant_key, expiry_date, on_hand_qty)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE on_hand_qty = on_hand_qty + VALUES(on_hand_qty)
	`

	_, err := r.q.ExecContext(ctx, query,
		orgID,
		key.StoreID,
		key.ProductID,
		key.VariantKey,
		expiryDate.Format("2006-01-02"),
		qty,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stock lot: %w", err)
	}
	return nil
}

const lotColumns = `id, store_id, product_id, variant_key, expiry_date, on_hand_qty, created_at, updated_at`

// ListForUpdate 锁定键下所有正数量批次，按到期日升序
func (r *lotRepo) ListForUpdate(ctx context.Context, orgID int64, key domain.SnapshotKey) ([]*domain.StockLot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM stock_lot
		WHERE organization_id = ? AND store_id = ? AND product_id = ? AND variant_key = ? AND on_hand_qty > 0
		ORDER BY expiry_date ASC
		FOR UPDATE
	`, lotColumns)

	return r.queryLots(ctx, query, orgID, key.StoreID, key.ProductID, key.VariantKey)
}

// List 查询键下所有正数量批次
func (r *lotRepo) List(ctx context.Context, orgID int64, key domain.SnapshotKey) ([]*domain.StockLot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM stock_lot
		WHERE organization_id = ? AND store_id = ? AND product_id = ? AND variant_key = ? AND on_hand_qty > 0
		ORDER BY expiry_date ASC
	`, lotColumns)

	return r.queryLots(ctx, query, orgID, key.StoreID, key.ProductID, key.VariantKey)
}

// SetQty 写回批次数量
func (r *lotRepo) SetQty(ctx context.Context, lotID, qty int64) error {
	query := `UPDATE stock_lot SET on_hand_qty = ? WHERE id = ?`

	_, err := r.q.ExecContext(ctx, query, qty, lotID)
	if err != nil {
		return fmt.Errorf("failed to set stock lot qty: %w", err)
	}
	return nil
}

func (r *lotRepo) queryLots(ctx context.Context, query string, args ...any) ([]*domain.StockLot, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock lots: %w", err)
	}
	defer rows.Close()

	var lots []*domain.StockLot
	for rows.Next() {
		lot := &domain.StockLot{}
		err := rows.Scan(
			&lot.ID,
			&lot.StoreID,
			&lot.ProductID,
			&lot.VariantKey,
			&lot.ExpiryDate,
			&lot.OnHandQty,
			&lot.CreatedAt,
			&lot.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
