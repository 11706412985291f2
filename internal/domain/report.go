package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockoutItem 表示一条缺货记录：在手量已经打到零或以下的键
type StockoutItem struct {
	StoreID    int64  `json:"store_id"`
	ProductID  int64  `json:"product_id"`
	VariantKey string `json:"variant_key"`
	OnHand     int64  `json:"on_hand"`
	OnOrder    int64  `json:"on_order"`
	MinStock   int64  `json:"min_stock"`
}

// SlowMoverItem 表示一条滞销记录：有库存但观察窗口内没有任何出入账
type SlowMoverItem struct {
	StoreID        int64      `json:"store_id"`
	ProductID      int64      `json:"product_id"`
	VariantKey     string     `json:"variant_key"`
	OnHand         int64      `json:"on_hand"`
	LastMovementAt *time.Time `json:"last_movement_at,omitempty"` // 从未动账时为空
}

// ShrinkageItem 表示窗口内某键的损耗汇总：负向调整的绝对量与估值。
// 估值按当前移动加权平均成本计算，没有成本记录时为零。
type ShrinkageItem struct {
	StoreID       int64           `json:"store_id"`
	ProductID     int64           `json:"product_id"`
	VariantKey    string          `json:"variant_key"`
	QtyLost       int64           `json:"qty_lost"`
	EstimatedLoss decimal.Decimal `json:"estimated_loss"`
}

// ReorderSuggestion 表示一条补货建议：在手+在途低于补货水位的键。
// 建议量将键补回水位；供应商取自商品档案，未配置时为空。
type ReorderSuggestion struct {
	StoreID      int64  `json:"store_id"`
	ProductID    int64  `json:"product_id"`
	VariantKey   string `json:"variant_key"`
	SupplierID   *int64 `json:"supplier_id,omitempty"`
	OnHand       int64  `json:"on_hand"`
	OnOrder      int64  `json:"on_order"`
	MinStock     int64  `json:"min_stock"`
	QtySuggested int64  `json:"qty_suggested"`
}
