package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// ProductRepository 定义商品目录的只读访问接口。
// 商品维护、属性模板、导入映射均在外部；核心只需要存在性校验、
// 供应商归属与包装单位换算。
type ProductRepository interface {
	GetByID(ctx context.Context, orgID, id int64) (*domain.Product, error)
	// GetUnit 读取商品的包装单位；pack → 基础单位换算在服务层完成
	GetUnit(ctx context.Context, productID, unitID int64) (*domain.ProductUnit, error)
	// VariantExists 校验变体归属于商品
	VariantExists(ctx context.Context, productID, variantID int64) (bool, error)
	// SupplierExists 校验供应商存在且归属本组织
	SupplierExists(ctx context.Context, orgID, supplierID int64) (bool, error)
}

// productRepo 实现 ProductRepository 接口
type productRepo struct {
	q dbtx
}

// NewProductRepository 创建商品仓储实例
func NewProductRepository(q dbtx) ProductRepository {
	return &productRepo{q: q}
}

// GetByID 读取商品；跨组织一律返回 nil
func (r *productRepo) GetByID(ctx context.Context, orgID, id int64) (*domain.Product, error) {
	query := `
		SELECT id, organization_id, name, sku, supplier_id
		FROM product
		WHERE organization_id = ? AND id = ?
	`

	p := &domain.Product{}
	err := r.q.QueryRowContext(ctx, query, orgID, id).Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&p.SKU,
		&p.SupplierID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// GetUnit 读取商品包装单位
func (r *productRepo) GetUnit(ctx context.Context, productID, unitID int64) (*domain.ProductUnit, error) {
	query := `
		SELECT id, product_id, factor
		FROM product_unit
		WHERE product_id = ? AND id = ?
	`

	u := &domain.ProductUnit{}
	err := r.q.QueryRowContext(ctx, query, productID, unitID).Scan(&u.ID, &u.ProductID, &u.Factor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product unit: %w", err)
	}
	return u, nil
}

// VariantExists 校验变体归属
func (r *productRepo) VariantExists(ctx context.Context, productID, variantID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM product_variant WHERE product_id = ? AND id = ?`

	var count int64
	if err := r.q.QueryRowContext(ctx, query, productID, variantID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check product variant: %w", err)
	}
	return count > 0, nil
}

// SupplierExists 校验供应商归属
func (r *productRepo) SupplierExists(ctx context.Context, orgID, supplierID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM supplier WHERE organization_id = ? AND id = ?`

	var count int64
	if err := r.q.QueryRowContext(ctx, query, orgID, supplierID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check supplier: %w", err)
	}
	return count > 0, nil
}
