package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductCost 表示 (organization, product, variant) 粒度的移动加权平均成本。
// 仅由 RECEIVE 变动更新，存储保留全精度，展示时才按货币最小单位舍入。
type ProductCost struct {
	ID             int64           `json:"id"`
	OrganizationID int64           `json:"organization_id"`
	ProductID      int64           `json:"product_id"`
	VariantKey     string          `json:"variant_key"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NextAverageCost 计算一次入库后的新移动加权平均成本：
//
//	newAvg = (oldAvg*oldOnHand + unitCost*qtyReceived) / (oldOnHand + qtyReceived)
//
// oldOnHand <= 0 时旧均值不再有意义（负库存下的成本无定义），
// 直接以本次入库单价重置。
func NextAverageCost(oldAvg decimal.Decimal, oldOnHand int64, unitCost decimal.Decimal, qtyReceived int64) decimal.Decimal {
	if oldOnHand <= 0 {
		return unitCost
	}
	oldQty := decimal.NewFromInt(oldOnHand)
	recvQty := decimal.NewFromInt(qtyReceived)
	total := oldAvg.Mul(oldQty).Add(unitCost.Mul(recvQty))
	return total.Div(oldQty.Add(recvQty))
}
