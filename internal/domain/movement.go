// Package domain 定义库存账本相关的业务领域模型和核心业务规则。
package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// VariantKeyBase 表示商品基础形态（未选择任何属性变体）的库存键
const VariantKeyBase = "BASE"

// MovementType 表示库存变动类型，封闭枚举，不允许扩展。
type MovementType string

const (
	MovementReceive     MovementType = "RECEIVE"
	MovementSale        MovementType = "SALE"
	MovementAdjustment  MovementType = "ADJUSTMENT"
	MovementTransferIn  MovementType = "TRANSFER_IN"
	MovementTransferOut MovementType = "TRANSFER_OUT"
)

// Valid 判断变动类型是否合法
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceive, MovementSale, MovementAdjustment, MovementTransferIn, MovementTransferOut:
		return true
	}
	return false
}

// StockMovement 表示一条库存变动记录。
// 账本是 append-only 的：记录一旦写入不再更新或删除，
// 回滚通过补偿记录实现。某个 (store, product, variant) 键下所有
// qty_delta 之和即该键当前在手库存，这是整个设计要保护的核心不变量。
type StockMovement struct {
	ID             int64            `json:"id"`
	OrganizationID int64            `json:"organization_id"`
	StoreID        int64            `json:"store_id"`
	ProductID      int64            `json:"product_id"`
	VariantKey     string           `json:"variant_key"`
	Type           MovementType     `json:"type"`
	QtyDelta       int64            `json:"qty_delta"` // 基础单位、有符号
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	Note           *string          `json:"note,omitempty"`
	ReferenceType  *string          `json:"reference_type,omitempty"`
	ReferenceID    *string          `json:"reference_id,omitempty"`
	RequestID      string           `json:"request_id"`
	CreatedByID    int64            `json:"created_by_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ReferenceTypePurchaseOrder 采购单收货产生的变动引用类型
const ReferenceTypePurchaseOrder = "PURCHASE_ORDER"

// ReferenceTypeTransfer 调拨产生的两条变动共享的引用类型
const ReferenceTypeTransfer = "TRANSFER"

// ReferenceTypeRollback 采购单回滚补偿产生的变动引用类型
const ReferenceTypeRollback = "PO_ROLLBACK"

// VariantKeyFor 将可选的变体ID规约为库存键
func VariantKeyFor(variantID *int64) string {
	if variantID == nil {
		return VariantKeyBase
	}
	return "V" + strconv.FormatInt(*variantID, 10)
}

// AdjustStockRequest 表示库存调整请求
type AdjustStockRequest struct {
	StoreID        int64      `json:"store_id" binding:"required"`
	ProductID      int64      `json:"product_id" binding:"required"`
	VariantID      *int64     `json:"variant_id"`
	QtyDelta       int64      `json:"qty_delta" binding:"required"` // 非零、有符号
	Reason         string     `json:"reason" binding:"required,min=1"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	IdempotencyKey string     `json:"-"`
	RequestID      string     `json:"-"`
}

// Validate 校验调整请求的入参
func (r *AdjustStockRequest) Validate() error {
	if r.StoreID <= 0 || r.ProductID <= 0 {
		return NewError(KindValidation, "store_id and product_id are required")
	}
	if r.QtyDelta == 0 {
		return NewError(KindValidation, "qty_delta must be non-zero")
	}
	if r.Reason == "" {
		return NewError(KindValidation, "reason is required")
	}
	if r.IdempotencyKey == "" {
		return NewError(KindValidation, "idempotency key is required")
	}
	return nil
}

// ReceiveStockRequest 表示入库请求
type ReceiveStockRequest struct {
	StoreID        int64            `json:"store_id" binding:"required"`
	ProductID      int64            `json:"product_id" binding:"required"`
	VariantID      *int64           `json:"variant_id"`
	QtyReceived    int64            `json:"qty_received" binding:"required,gt=0"`
	UnitCost       *decimal.Decimal `json:"unit_cost"`
	ExpiryDate     *time.Time       `json:"expiry_date"`
	Note           *string          `json:"note"`
	ReferenceType  *string          `json:"-"`
	ReferenceID    *string          `json:"-"`
	IdempotencyKey string           `json:"-"`
	RequestID      string           `json:"-"`
	// ReduceOnOrder 由采购收货在同一事务内置位：入库同时扣减在途量
	ReduceOnOrder bool `json:"-"`
}

// Validate 校验入库请求的入参
func (r *ReceiveStockRequest) Validate() error {
	if r.StoreID <= 0 || r.ProductID <= 0 {
		return NewError(KindValidation, "store_id and product_id are required")
	}
	if r.QtyReceived <= 0 {
		return NewError(KindValidation, "qty_received must be positive")
	}
	if r.UnitCost != nil && r.UnitCost.IsNegative() {
		return NewError(KindValidation, "unit_cost cannot be negative")
	}
	if r.IdempotencyKey == "" {
		return NewError(KindValidation, "idempotency key is required")
	}
	return nil
}

// TransferStockRequest 表示跨门店调拨请求
type TransferStockRequest struct {
	FromStoreID    int64      `json:"from_store_id" binding:"required"`
	ToStoreID      int64      `json:"to_store_id" binding:"required"`
	ProductID      int64      `json:"product_id" binding:"required"`
	VariantID      *int64     `json:"variant_id"`
	Qty            int64      `json:"qty" binding:"required,gt=0"`
	Note           *string    `json:"note"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	IdempotencyKey string     `json:"-"`
	RequestID      string     `json:"-"`
}

// Validate 校验调拨请求的入参
func (r *TransferStockRequest) Validate() error {
	if r.FromStoreID <= 0 || r.ToStoreID <= 0 || r.ProductID <= 0 {
		return NewError(KindValidation, "from_store_id, to_store_id and product_id are required")
	}
	if r.FromStoreID == r.ToStoreID {
		return NewError(KindValidation, "from_store_id and to_store_id must differ")
	}
	if r.Qty <= 0 {
		return NewError(KindValidation, "qty must be positive")
	}
	if r.IdempotencyKey == "" {
		return NewError(KindValidation, "idempotency key is required")
	}
	return nil
}

// TransferResult 表示一次调拨的结果：同一 reference_id 串起的两侧位置
type TransferResult struct {
	ReferenceID string         `json:"reference_id"`
	From        *StockPosition `json:"from"`
	To          *StockPosition `json:"to"`
}

// StockMovementListRequest 表示账本查询请求（报表侧只读消费）
type StockMovementListRequest struct {
	StoreID   int64        `json:"store_id"`
	ProductID *int64       `json:"product_id"`
	Type      MovementType `json:"type"`
	From      *time.Time   `json:"from"`
	To        *time.Time   `json:"to"`
	Page      int          `json:"page"`
	PageSize  int          `json:"page_size"`
}

// StockMovementListResponse 表示账本查询响应
type StockMovementListResponse struct {
	Movements []*StockMovement `json:"movements"`
	Total     int64            `json:"total"`
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
}
