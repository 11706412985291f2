package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// LedgerSum 表示账本按键分组的回放结果
type LedgerSum struct {
	Key domain.SnapshotKey
	Sum int64
}

// MovementRepository 定义账本数据访问接口。
// 账本是 append-only 的：接口上只有插入与查询，没有更新和删除。
type MovementRepository interface {
	Insert(ctx context.Context, m *domain.StockMovement) error
	List(ctx context.Context, orgID int64, req *domain.StockMovementListRequest) ([]*domain.StockMovement, int64, error)
	ListByReference(ctx context.Context, orgID int64, refType, refID string) ([]*domain.StockMovement, error)
	// SumGroupedByStore 回放整个门店的账本，按键分组求和
	SumGroupedByStore(ctx context.Context, orgID, storeID int64) ([]*LedgerSum, error)
}

// movementRepo 实现 MovementRepository 接口
type movementRepo struct {
	q dbtx
}

// NewMovementRepository 创建账本仓储实例
func NewMovementRepository(q dbtx) MovementRepository {
	return &movementRepo{q: q}
}

const movementColumns = `id, organization_id, store_id, product_id, variant_key, type, qty_delta, unit_cost, note, reference_type, reference_id, request_id, created_by_id, created_at`

// Insert 追加一条变动记录
func (r *movementRepo) Insert(ctx context.Context, m *domain.StockMovement) error {
	query := `
		INSERT INTO stock_movement
			(organization_id, store_id, product_id, variant_key, type, qty_delta, unit_cost, note, reference_type, reference_id, request_id, created_by_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.q.ExecContext(ctx, query,
		m.OrganizationID,
		m.StoreID,
		m.ProductID,
		m.VariantKey,
		string(m.Type),
		m.QtyDelta,
		m.UnitCost,
		m.Note,
		m.ReferenceType,
		m.ReferenceID,
		m.RequestID,
		m.CreatedByID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	m.ID = id
	return nil
}

// List 查询账本记录（报表侧只读消费，按组织+门店+时间范围过滤）
func (r *movementRepo) List(ctx context.Context, orgID int64, req *domain.StockMovementListRequest) ([]*domain.StockMovement, int64, error) {
	conditions := []string{"organization_id = ?", "store_id = ?"}
	args := []any{orgID, req.StoreID}

	if req.ProductID != nil {
		conditions = append(conditions, "product_id = ?")
		args = append(args, *req.ProductID)
	}
	if req.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(req.Type))
	}
	if req.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *req.From)
	}
	if req.To != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, *req.To)
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM stock_movement %s", where)
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count stock movements: %w", err)
	}

	limit := req.PageSize
	offset := (req.Page - 1) * req.PageSize
	query := fmt.Sprintf(`
		SELECT %s FROM stock_movement %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, movementColumns, where)
	args = append(args, limit, offset)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	movements, err := scanMovements(rows)
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// ListByReference 按引用查询（如一次调拨的两条记录、一次收货的全部记录）
func (r *movementRepo) ListByReference(ctx context.Context, orgID int64, refType, refID string) ([]*domain.StockMovement, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM stock_movement
		WHERE organization_id = ? AND reference_type = ? AND reference_id = ?
		ORDER BY id
	`, movementColumns)

	rows, err := r.q.QueryContext(ctx, query, orgID, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements by reference: %w", err)
	}
	defer rows.Close()

	return scanMovements(rows)
}

// SumGroupedByStore 全量回放门店账本，快照重建的数据来源
func (r *movementRepo) SumGroupedByStore(ctx context.Context, orgID, storeID int64) ([]*LedgerSum, error) {
	query := `
		SELECT store_id, product_id, variant_key, COALESCE(SUM(qty_delta), 0)
		FROM stock_movement
		WHERE organization_id = ? AND store_id = ?
		GROUP BY store_id, product_id, variant_key
	`

	rows, err := r.q.QueryContext(ctx, query, orgID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger for store: %w", err)
	}
	defer rows.Close()

	var sums []*LedgerSum
	for rows.Next() {
		s := &LedgerSum{}
		if err := rows.Scan(&s.Key.StoreID, &s.Key.ProductID, &s.Key.VariantKey, &s.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan ledger sum: %w", err)
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

func scanMovements(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*domain.StockMovement, error) {
	var movements []*domain.StockMovement
	for rows.Next() {
		m := &domain.StockMovement{}
		var typ string
		err := rows.Scan(
			&m.ID,
			&m.OrganizationID,
			&m.StoreID,
			&m.ProductID,
			&m.VariantKey,
			&typ,
			&m.QtyDelta,
			&m.UnitCost,
			&m.Note,
			&m.ReferenceType,
			&m.ReferenceID,
			&m.RequestID,
			&m.CreatedByID,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		m.Type = domain.MovementType(typ)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
