package domain

import "time"

// SnapshotKey 唯一定位一条库存快照
type SnapshotKey struct {
	StoreID    int64  `json:"store_id"`
	ProductID  int64  `json:"product_id"`
	VariantKey string `json:"variant_key"`
}

// InventorySnapshot 表示 (store, product, variant) 粒度的当前库存快照。
// 快照是账本的派生缓存：任意时刻 OnHand 必须等于该键下账本 qty_delta 之和，
// 可通过全量回放账本重建。
type InventorySnapshot struct {
	ID                 int64     `json:"id"`
	OrganizationID     int64     `json:"organization_id"`
	StoreID            int64     `json:"store_id"`
	ProductID          int64     `json:"product_id"`
	VariantKey         string    `json:"variant_key"`
	OnHand             int64     `json:"on_hand"`
	OnOrder            int64     `json:"on_order"`
	AllowNegativeStock bool      `json:"allow_negative_stock"` // 创建时从门店策略拷贝
	MinStock           int64     `json:"min_stock"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Key 返回快照的唯一键
func (s *InventorySnapshot) Key() SnapshotKey {
	return SnapshotKey{StoreID: s.StoreID, ProductID: s.ProductID, VariantKey: s.VariantKey}
}

// IsBelowMin 判断是否低于补货水位（含在途量）
func (s *InventorySnapshot) IsBelowMin() bool {
	return s.OnHand+s.OnOrder < s.MinStock
}

// StockPosition 是库存变更操作的统一返回：变更后的在手数量及关联的变动记录ID
type StockPosition struct {
	StoreID    int64  `json:"store_id"`
	ProductID  int64  `json:"product_id"`
	VariantKey string `json:"variant_key"`
	OnHand     int64  `json:"on_hand"`
	MovementID int64  `json:"movement_id,omitempty"`
}

// RecomputeResult 表示一次快照重建的结果统计
type RecomputeResult struct {
	StoreID     int64 `json:"store_id"`
	KeysRebuilt int   `json:"keys_rebuilt"`
	KeysZeroed  int   `json:"keys_zeroed"`
}

// SnapshotListRequest 表示快照列表查询请求
type SnapshotListRequest struct {
	StoreID     int64  `json:"store_id"`
	ProductID   *int64 `json:"product_id"`
	BelowMin    *bool  `json:"below_min"`
	Page        int    `json:"page"`
	PageSize    int    `json:"page_size"`
	SortBy      *string
	SortOrder   *string
	OnlyNonZero bool `json:"only_non_zero"`
}

// SnapshotListResponse 表示快照列表查询响应
type SnapshotListResponse struct {
	Snapshots []*InventorySnapshot `json:"snapshots"`
	Total     int64                `json:"total"`
	Page      int                  `json:"page"`
	PageSize  int                  `json:"page_size"`
}
