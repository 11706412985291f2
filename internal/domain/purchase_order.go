package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// POStatus 表示采购单状态，封闭枚举。
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusSubmitted         POStatus = "SUBMITTED"
	POStatusApproved          POStatus = "APPROVED"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusReceived          POStatus = "RECEIVED"
	POStatusCancelled         POStatus = "CANCELLED"
)

// Terminal 判断状态是否为终态
func (s POStatus) Terminal() bool {
	return s == POStatusReceived || s == POStatusCancelled
}

// poTransitions 描述合法的状态流转；收货导致的
// APPROVED/PARTIALLY_RECEIVED → PARTIALLY_RECEIVED/RECEIVED 由行汇总函数单独驱动。
var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:     {POStatusSubmitted, POStatusCancelled},
	POStatusSubmitted: {POStatusApproved, POStatusCancelled},
}

// CanTransition 判断 from → to 是否为合法的显式流转
func CanTransition(from, to POStatus) bool {
	for _, next := range poTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Receivable 判断采购单当前状态是否允许收货
func (s POStatus) Receivable() bool {
	return s == POStatusApproved || s == POStatusPartiallyReceived
}

// PurchaseOrder 表示采购单头
type PurchaseOrder struct {
	ID             int64                `json:"id"`
	OrganizationID int64                `json:"organization_id"`
	StoreID        int64                `json:"store_id"`
	SupplierID     int64                `json:"supplier_id"`
	Status         POStatus             `json:"status"`
	Note           *string              `json:"note,omitempty"`
	SubmittedAt    *time.Time           `json:"submitted_at,omitempty"`
	ApprovedAt     *time.Time           `json:"approved_at,omitempty"`
	CreatedByID    int64                `json:"created_by_id"`
	UpdatedByID    int64                `json:"updated_by_id"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Lines          []*PurchaseOrderLine `json:"lines,omitempty"`
}

// PurchaseOrderLine 表示采购单行。
// 不变量：除非显式允许超收，0 <= QtyReceived <= QtyOrdered。
type PurchaseOrderLine struct {
	ID              int64            `json:"id"`
	PurchaseOrderID int64            `json:"purchase_order_id"`
	ProductID       int64            `json:"product_id"`
	VariantID       *int64           `json:"variant_id,omitempty"`
	QtyOrdered      int64            `json:"qty_ordered"` // 基础单位
	QtyReceived     int64            `json:"qty_received"`
	UnitCost        *decimal.Decimal `json:"unit_cost,omitempty"`
}

// Remaining 返回行的未收数量（可能因超收为负）
func (l *PurchaseOrderLine) Remaining() int64 {
	return l.QtyOrdered - l.QtyReceived
}

// StatusFromLines 由行收货汇总推导订单状态：
// 所有行 qty_received >= qty_ordered 时为 RECEIVED，否则为 PARTIALLY_RECEIVED。
// 订单状态是行汇总的纯函数，不允许手工设置。
func StatusFromLines(lines []*PurchaseOrderLine) POStatus {
	for _, line := range lines {
		if line.QtyReceived < line.QtyOrdered {
			return POStatusPartiallyReceived
		}
	}
	return POStatusReceived
}

// CreatePurchaseOrderLineInput 表示创建采购单时的行入参
type CreatePurchaseOrderLineInput struct {
	ProductID  int64            `json:"product_id" binding:"required"`
	VariantID  *int64           `json:"variant_id"`
	QtyOrdered int64            `json:"qty_ordered" binding:"required,gt=0"`
	UnitCost   *decimal.Decimal `json:"unit_cost"`
}

// CreatePurchaseOrderRequest 表示创建采购单请求；Submit 为真时创建后直接进入 SUBMITTED。
type CreatePurchaseOrderRequest struct {
	StoreID        int64                           `json:"store_id" binding:"required"`
	SupplierID     int64                           `json:"supplier_id" binding:"required"`
	Note           *string                         `json:"note"`
	Submit         bool                            `json:"submit"`
	Lines          []*CreatePurchaseOrderLineInput `json:"lines" binding:"required,min=1"`
	IdempotencyKey string                          `json:"-"`
	RequestID      string                          `json:"-"`
}

// Validate 校验创建请求
func (r *CreatePurchaseOrderRequest) Validate() error {
	if r.StoreID <= 0 || r.SupplierID <= 0 {
		return NewError(KindValidation, "store_id and supplier_id are required")
	}
	if len(r.Lines) == 0 {
		return NewError(KindValidation, "purchase order must have at least one line")
	}
	for _, line := range r.Lines {
		if line.ProductID <= 0 {
			return NewError(KindValidation, "line product_id is required")
		}
		if line.QtyOrdered <= 0 {
			return NewError(KindValidation, "line qty_ordered must be positive")
		}
		if line.UnitCost != nil && line.UnitCost.IsNegative() {
			return NewError(KindValidation, "line unit_cost cannot be negative")
		}
	}
	return nil
}

// ReceivePurchaseOrderLineInput 表示收货请求中的一行。
// QtyReceived 为包装单位数量，PackID 非空时由单位换算器折算为基础单位。
type ReceivePurchaseOrderLineInput struct {
	LineID      int64  `json:"line_id" binding:"required"`
	QtyReceived int64  `json:"qty_received" binding:"required,gt=0"`
	PackID      *int64 `json:"pack_id"`
}

// ReceivePurchaseOrderRequest 表示采购单收货请求
type ReceivePurchaseOrderRequest struct {
	PurchaseOrderID  int64                            `json:"-"`
	Lines            []*ReceivePurchaseOrderLineInput `json:"lines" binding:"required,min=1"`
	AllowOverReceive bool                             `json:"allow_over_receive"`
	ExpiryDate       *time.Time                       `json:"expiry_date"`
	IdempotencyKey   string                           `json:"-"`
	RequestID        string                           `json:"-"`
}

// Validate 校验收货请求
func (r *ReceivePurchaseOrderRequest) Validate() error {
	if r.PurchaseOrderID <= 0 {
		return NewError(KindValidation, "purchase order id is required")
	}
	if len(r.Lines) == 0 {
		return NewError(KindValidation, "receive request must have at least one line")
	}
	for _, line := range r.Lines {
		if line.LineID <= 0 {
			return NewError(KindValidation, "line_id is required")
		}
		if line.QtyReceived <= 0 {
			return NewError(KindValidation, "qty_received must be positive")
		}
	}
	if r.IdempotencyKey == "" {
		return NewError(KindValidation, "idempotency key is required")
	}
	return nil
}

// ReorderDraftsRequest 表示按补货建议批量建草稿单的请求。
// 幂等键按供应商派生子键，陈旧界面的重复提交不会重复建单。
type ReorderDraftsRequest struct {
	Items          []*ReorderItem `json:"items" binding:"required,min=1"`
	IdempotencyKey string         `json:"-"`
	RequestID      string         `json:"-"`
}

// Validate 校验补货建单请求
func (r *ReorderDraftsRequest) Validate() error {
	if len(r.Items) == 0 {
		return NewError(KindValidation, "reorder request must have at least one item")
	}
	for _, item := range r.Items {
		if item.SupplierID <= 0 || item.ProductID <= 0 || item.StoreID <= 0 {
			return NewError(KindValidation, "reorder item supplier_id, product_id and store_id are required")
		}
		if item.QtySuggested <= 0 {
			return NewError(KindValidation, "reorder item qty_suggested must be positive")
		}
	}
	if r.IdempotencyKey == "" {
		return NewError(KindValidation, "idempotency key is required")
	}
	return nil
}

// ReorderItem 表示一条补货建议；createDraftsFromReorder 按 SupplierID 分组建单。
type ReorderItem struct {
	ProductID    int64            `json:"product_id"`
	VariantID    *int64           `json:"variant_id"`
	SupplierID   int64            `json:"supplier_id"`
	StoreID      int64            `json:"store_id"`
	QtySuggested int64            `json:"qty_suggested"`
	UnitCost     *decimal.Decimal `json:"unit_cost"`
}
