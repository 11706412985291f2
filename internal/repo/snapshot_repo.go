package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// SnapshotRepository 定义库存快照数据访问接口。
// 调整/入库/调拨的读改写必须走 GetForUpdate 持有行锁，
// 两个并发写者不得基于同一份过期的 on_hand 计算。
type SnapshotRepository interface {
	Create(ctx context.Context, s *domain.InventorySnapshot) error
	GetByKey(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error)
	// GetForUpdate 以 SELECT ... FOR UPDATE 锁定快照行直至事务结束
	GetForUpdate(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error)
	// UpdateQuantities 写回 on_hand/on_order（调用方需已持有行锁）
	UpdateQuantities(ctx context.Context, s *domain.InventorySnapshot) error
	// ReplaceOnHand 快照重建用：直接以账本回放结果覆盖 on_hand
	ReplaceOnHand(ctx context.Context, orgID int64, key domain.SnapshotKey, onHand int64) error
	List(ctx context.Context, orgID int64, req *domain.SnapshotListRequest) ([]*domain.InventorySnapshot, int64, error)
	// ListKeysByStore 返回门店现存的全部快照键（重建时用于归零无账目的键）
	ListKeysByStore(ctx context.Context, orgID, storeID int64) ([]domain.SnapshotKey, error)
}

// snapshotRepo 实现 SnapshotRepository 接口
type snapshotRepo struct {
	q dbtx
}

// NewSnapshotRepository 创建快照仓储实例
func NewSnapshotRepository(q dbtx) SnapshotRepository {
	return &snapshotRepo{q: q}
}

const snapshotColumns = `id, organization_id, store_id, product_id, variant_key, on_hand, on_order, allow_negative_stock, min_stock, created_at, updated_at`

// Create 创建快照记录（商品创建/导入时逐门店生成）
func (r *snapshotRepo) Create(ctx context.Context, s *domain.InventorySnapshot) error {
	query := `
		INSERT INTO inventory_snapshot
			(organization_id, store_id, product_id, variant_key, on_hand, on_order, allow_negative_stock, min_stock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.q.ExecContext(ctx, query,
		s.OrganizationID,
		s.StoreID,
		s.ProductID,
		s.VariantKey,
		s.OnHand,
		s.OnOrder,
		s.AllowNegativeStock,
		s.MinStock,
	)
	if err != nil {
		return fmt.Errorf("failed to create inventory snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	s.ID = id
	return nil
}

// GetByKey 按键读取快照；不存在时返回 nil
func (r *snapshotRepo) GetByKey(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	return r.getByKey(ctx, orgID, key, false)
}

// GetForUpdate 按键读取并锁定快照行
func (r *snapshotRepo) GetForUpdate(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	return r.getByKey(ctx, orgID, key, true)
}

func (r *snapshotRepo) getByKey(ctx context.Context, orgID int64, key domain.SnapshotKey, forUpdate bool) (*domain.InventorySnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM inventory_snapshot
		WHERE organization_id = ? AND store_id = ? AND product_id = ? AND variant_key = ?
	`, snapshotColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}

	s := &domain.InventorySnapshot{}
	err := r.q.QueryRowContext(ctx, query, orgID, key.StoreID, key.ProductID, key.VariantKey).Scan(
		&s.ID,
		&s.OrganizationID,
		&s.StoreID,
		&s.ProductID,
		&s.VariantKey,
		&s.OnHand,
		&s.OnOrder,
		&s.AllowNegativeStock,
		&s.MinStock,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory snapshot: %w", err)
	}
	return s, nil
}

// UpdateQuantities 写回数量字段
func (r *snapshotRepo) UpdateQuantities(ctx context.Context, s *domain.InventorySnapshot) error {
	query := `
		UPDATE inventory_snapshot
		SET on_hand = ?, on_order = ?
		WHERE id = ?
	`

	_, err := r.q.ExecContext(ctx, query, s.OnHand, s.OnOrder, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update inventory snapshot: %w", err)
	}
	return nil
}

// ReplaceOnHand 以账本回放结果覆盖 on_hand；快照不存在时为无操作
// （没有账目也没有快照的键无需修复）
func (r *snapshotRepo) ReplaceOnHand(ctx context.Context, orgID int64, key domain.SnapshotKey, onHand int64) error {
	query := `
		UPDATE inventory_snapshot
		SET on_hand = ?
		WHERE organization_id = ? AND store_id = ? AND product_id = ? AND variant_key = ?
	`

	_, err := r.q.ExecContext(ctx, query, onHand, orgID, key.StoreID, key.ProductID, key.VariantKey)
	if err != nil {
		return fmt.Errorf("failed to replace snapshot on_hand: %w", err)
	}
	return nil
}

// List 查询快照列表
func (r *snapshotRepo) List(ctx context.Context, orgID int64, req *domain.SnapshotListRequest) ([]*domain.InventorySnapshot, int64, error) {
	conditions := []string{"organization_id = ?", "store_id = ?"}
	args := []any{orgID, req.StoreID}

	if req.ProductID != nil {
		conditions = append(conditions, "product_id = ?")
		args = append(args, *req.ProductID)
	}
	if req.BelowMin != nil && *req.BelowMin {
		conditions = append(conditions, "on_hand + on_order < min_stock")
	}
	if req.OnlyNonZero {
		conditions = append(conditions, "on_hand <> 0")
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM inventory_snapshot %s", where)
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count inventory snapshots: %w", err)
	}

	orderBy := buildSnapshotOrderClause(req)
	query := fmt.Sprintf(`
		SELECT %s FROM inventory_snapshot %s %s LIMIT ? OFFSET ?
	`, snapshotColumns, where, orderBy)
	args = append(args, req.PageSize, (req.Page-1)*req.PageSize)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query inventory snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.InventorySnapshot
	for rows.Next() {
		s := &domain.InventorySnapshot{}
		err := rows.Scan(
			&s.ID,
			&s.OrganizationID,
			&s.StoreID,
			&s.ProductID,
			&s.VariantKey,
			&s.OnHand,
			&s.OnOrder,
			&s.AllowNegativeStock,
			&s.MinStock,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan inventory snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, total, rows.Err()
}

// ListKeysByStore 返回门店全部快照键
func (r *snapshotRepo) ListKeysByStore(ctx context.Context, orgID, storeID int64) ([]domain.SnapshotKey, error) {
	query := `
		SELECT store_id, product_id, variant_key
		FROM inventory_snapshot
		WHERE organization_id = ? AND store_id = ?
	`

	rows, err := r.q.QueryContext(ctx, query, orgID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.SnapshotKey
	for rows.Next() {
		var key domain.SnapshotKey
		if err := rows.Scan(&key.StoreID, &key.ProductID, &key.VariantKey); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// buildSnapshotOrderClause 构建排序子句
func buildSnapshotOrderClause(req *domain.SnapshotListRequest) string {
	sortBy := "updated_at"
	sortOrder := "DESC"

	if req.SortBy != nil {
		switch *req.SortBy {
		case "on_hand", "updated_at", "created_at", "product_id":
			sortBy = *req.SortBy
		}
	}
	if req.SortOrder != nil && strings.ToUpper(*req.SortOrder) == "ASC" {
		sortOrder = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s", sortBy, sortOrder)
}
