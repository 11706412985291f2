package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// CostRepository 定义平均成本数据访问接口
type CostRepository interface {
	// GetForUpdate 锁定并返回成本行；不存在时返回 nil
	GetForUpdate(ctx context.Context, orgID, productID int64, variantKey string) (*domain.ProductCost, error)
	Get(ctx context.Context, orgID, productID int64, variantKey string) (*domain.ProductCost, error)
	// Upsert 写入新的平均成本
	Upsert(ctx context.Context, orgID, productID int64, variantKey string, avgCost decimal.Decimal) error
}

// costRepo 实现 CostRepository 接口
type costRepo struct {
	q dbtx
}

// NewCostRepository 创建成本仓储实例
func NewCostRepository(q dbtx) CostRepository {
	return &costRepo{q: q}
}

// GetForUpdate 锁定成本行
func (r *costRepo) GetForUpdate(ctx context.Context, orgID, productID int64, variantKey string) (*domain.ProductCost, error) {
	return r.get(ctx, orgID, productID, variantKey, true)
}

// Get 读取成本行
func (r *costRepo) Get(ctx context.Context, orgID, productID int64, variantKey string) (*domain.ProductCost, error) {
	return r.get(ctx, orgID, productID, variantKey, false)
}

func (r *costRepo) get(ctx context.Context, orgID, productID int64, variantKey string, forUpdate bool) (*domain.ProductCost, error) {
	query := `
		SELECT id, organization_id, product_id, variant_key, avg_cost, updated_at
		FROM product_cost
		WHERE organization_id = ? AND product_id = ? AND variant_key = ?
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	c := &domain.ProductCost{}
	err := r.q.QueryRowContext(ctx, query, orgID, productID, variantKey).Scan(
		&c.ID,
		&c.OrganizationID,
		&c.ProductID,
		&c.VariantKey,
		&c.AvgCost,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product cost: %w", err)
	}
	return c, nil
}

// Upsert 写入平均成本（全精度存储）
func (r *costRepo) Upsert(ctx context.Context, orgID, productID int64, variantKey string, avgCost decimal.Decimal) error {
	query := `
		INSERT INTO product_cost (organization_id, product_id, variant_key, avg_cost)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE avg_cost = VALUES(avg_cost)
	`

	_, err := r.q.ExecContext(ctx, query, orgID, productID, variantKey, avgCost)
	if err != nil {
		return fmt.Errorf("failed to upsert product cost: %w", err)
	}
	return nil
}
