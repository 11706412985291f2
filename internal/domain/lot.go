package domain

import "time"

// StockLot 表示门店内某商品按到期日划分的子库存。
// 仅当门店开启 track_expiry_lots 时维护；同一键下所有批次数量之和
// 不得超过快照的在手数量。
type StockLot struct {
	ID         int64     `json:"id"`
	StoreID    int64     `json:"store_id"`
	ProductID  int64     `json:"product_id"`
	VariantKey string    `json:"variant_key"`
	ExpiryDate time.Time `json:"expiry_date"` // 仅日期部分有意义
	OnHandQty  int64     `json:"on_hand_qty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Expired 判断批次在给定时刻是否已过期
func (l *StockLot) Expired(now time.Time) bool {
	return l.ExpiryDate.Before(now.Truncate(24 * time.Hour))
}
