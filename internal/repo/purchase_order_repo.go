package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// PurchaseOrderRepository 定义采购单数据访问接口。
// 状态字段只能经由服务层的状态机写入。
type PurchaseOrderRepository interface {
	Create(ctx context.Context, po *domain.PurchaseOrder) error
	GetByID(ctx context.Context, orgID, id int64) (*domain.PurchaseOrder, error)
	// GetForUpdate 锁定订单头与行，收货与状态流转期间持有
	GetForUpdate(ctx context.Context, orgID, id int64) (*domain.PurchaseOrder, error)
	// UpdateStatus 写回状态及时间戳
	UpdateStatus(ctx context.Context, po *domain.PurchaseOrder) error
	// UpdateLineReceived 累加行的已收数量
	UpdateLineReceived(ctx context.Context, line *domain.PurchaseOrderLine) error
	List(ctx context.Context, orgID, storeID int64, status domain.POStatus, page, pageSize int) ([]*domain.PurchaseOrder, int64, error)
}

// purchaseOrderRepo 实现 PurchaseOrderRepository 接口
type purchaseOrderRepo struct {
	q dbtx
}

// NewPurchaseOrderRepository 创建采购单仓储实例
func NewPurchaseOrderRepository(q dbtx) PurchaseOrderRepository {
	return &purchaseOrderRepo{q: q}
}

// Create 创建采购单头与行
func (r *purchaseOrderRepo) Create(ctx context.Context, po *domain.PurchaseOrder) error {
	query := `
		INSERT INTO purchase_order
			(organization_id, store_id, supplier_id, status, note, submitted_at, approved_at, created_by_id, updated_by_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.q.ExecContext(ctx, query,
		po.OrganizationID,
		po.StoreID,
		po.SupplierID,
		string(po.Status),
		po.Note,
		po.SubmittedAt,
		po.ApprovedAt,
		po.CreatedByID,
		po.UpdatedByID,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	po.ID = id

	lineQuery := `
		INSERT INTO purchase_order_line (purchase_order_id, product_id, variant_id, qty_ordered, qty_received, unit_cost)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, line := range po.Lines {
		line.PurchaseOrderID = id
		result, err := r.q.ExecContext(ctx, lineQuery,
			line.PurchaseOrderID,
			line.ProductID,
			line.VariantID,
			line.QtyOrdered,
			line.QtyReceived,
			line.UnitCost,
		)
		if err != nil {
			return fmt.Errorf("failed to create purchase order line: %w", err)
		}
		lineID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		line.ID = lineID
	}

	return nil
}

const poColumns = `id, organization_id, store_id, supplier_id, status, note, submitted_at, approved_at, created_by_id, updated_by_id, created_at, updated_at`

// GetByID 读取采购单（含行）；跨组织一律返回 nil，不泄露存在性
func (r *purchaseOrderRepo) GetByID(ctx context.Context, orgID, id int64) (*domain.PurchaseOrder, error) {
	return r.get(ctx, orgID, id, false)
}

// GetForUpdate 锁定并读取采购单（含行）
func (r *purchaseOrderRepo) GetForUpdate(ctx context.Context, orgID, id int64) (*domain.PurchaseOrder, error) {
	return r.get(ctx, orgID, id, true)
}

func (r *purchaseOrderRepo) get(ctx context.Context, orgID, id int64, forUpdate bool) (*domain.PurchaseOrder, error) {
	query := fmt.Sprintf(`SELECT %s FROM purchase_order WHERE organization_id = ? AND id = ?`, poColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}

	po := &domain.PurchaseOrder{}
	var status string
	err := r.q.QueryRowContext(ctx, query, orgID, id).Scan(
		&po.ID,
		&po.OrganizationID,
		&po.StoreID,
		&po.SupplierID,
		&status,
		&po.Note,
		&po.SubmittedAt,
		&po.ApprovedAt,
		&po.CreatedByID,
		&po.UpdatedByID,
		&po.CreatedAt,
		&po.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase order: %w", err)
	}
	po.Status = domain.POStatus(status)

	lineQuery := `
		SELECT id, purchase_order_id, product_id, variant_id, qty_ordered, qty_received, unit_cost
		FROM purchase_order_line
		WHERE purchase_order_id = ?
		ORDER BY id
	`
	if forUpdate {
		lineQuery += " FOR UPDATE"
	}

	rows, err := r.q.QueryContext(ctx, lineQuery, po.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		line := &domain.PurchaseOrderLine{}
		err := rows.Scan(
			&line.ID,
			&line.PurchaseOrderID,
			&line.ProductID,
			&line.VariantID,
			&line.QtyOrdered,
			&line.QtyReceived,
			&line.UnitCost,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase order line: %w", err)
		}
		po.Lines = append(po.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchase order lines: %w", err)
	}

	return po, nil
}

// UpdateStatus 写回状态与时间戳
func (r *purchaseOrderRepo) UpdateStatus(ctx context.Context, po *domain.PurchaseOrder) error {
	query := `
		UPDATE purchase_order
		SET status = ?, submitted_at = ?, approved_at = ?, updated_by_id = ?
		WHERE id = ?
	`

	_, err := r.q.ExecContext(ctx, query,
		string(po.Status),
		po.SubmittedAt,
		po.ApprovedAt,
		po.UpdatedByID,
		po.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update purchase order status: %w", err)
	}
	return nil
}

// UpdateLineReceived 写回行的已收数量
func (r *purchaseOrderRepo) UpdateLineReceived(ctx context.Context, line *domain.PurchaseOrderLine) error {
	query := `UPDATE purchase_order_line SET qty_received = ? WHERE id = ?`

	_, err := r.q.ExecContext(ctx, query, line.QtyReceived, line.ID)
	if err != nil {
		return fmt.Errorf("failed to update purchase order line: %w", err)
	}
	return nil
}

// List 查询采购单列表（不含行）
func (r *purchaseOrderRepo) List(ctx context.Context, orgID, storeID int64, status domain.POStatus, page, pageSize int) ([]*domain.PurchaseOrder, int64, error) {
	conditions := "WHERE organization_id = ?"
	args := []any{orgID}
	if storeID > 0 {
		conditions += " AND store_id = ?"
		args = append(args, storeID)
	}
	if status != "" {
		conditions += " AND status = ?"
		args = append(args, string(status))
	}

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM purchase_order %s", conditions)
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count purchase orders: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM purchase_order %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, poColumns, conditions)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.PurchaseOrder
	for rows.Next() {
		po := &domain.PurchaseOrder{}
		var status string
		err := rows.Scan(
			&po.ID,
			&po.OrganizationID,
			&po.StoreID,
			&po.SupplierID,
			&status,
			&po.Note,
			&po.SubmittedAt,
			&po.ApprovedAt,
			&po.CreatedByID,
			&po.UpdatedByID,
			&po.CreatedAt,
			&po.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan purchase order: %w", err)
		}
		po.Status = domain.POStatus(status)
		orders = append(orders, po)
	}

	return orders, total, rows.Err()
}
