package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// StoreRepository 定义门店策略的只读访问接口。
// 门店的增删改由外部后台维护，核心只消费策略开关。
type StoreRepository interface {
	GetByID(ctx context.Context, orgID, id int64) (*domain.Store, error)
}

// storeRepo 实现 StoreRepository 接口
type storeRepo struct {
	q dbtx
}

// NewStoreRepository 创建门店仓储实例
func NewStoreRepository(q dbtx) StoreRepository {
	return &storeRepo{q: q}
}

// GetByID 读取门店；跨组织一律返回 nil
func (r *storeRepo) GetByID(ctx context.Context, orgID, id int64) (*domain.Store, error) {
	query := `
		SELECT id, organization_id, name, allow_negative_stock, track_expiry_lots, created_at, updated_at
		FROM store
		WHERE organization_id = ? AND id = ?
	`

	s := &domain.Store{}
	err := r.q.QueryRowContext(ctx, query, orgID, id).Scan(
		&s.ID,
		&s.OrganizationID,
		&s.Name,
		&s.AllowNegativeStock,
		&s.TrackExpiryLots,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store: %w", err)
	}
	return s, nil
}
