package domain

import "time"

// Store 表示门店及其库存策略。门店的增删改由外部后台维护，
// 核心只读取策略开关。
type Store struct {
	ID                 int64     `json:"id"`
	OrganizationID     int64     `json:"organization_id"`
	Name               string    `json:"name"`
	AllowNegativeStock bool      `json:"allow_negative_stock"`
	TrackExpiryLots    bool      `json:"track_expiry_lots"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Supplier 表示供应商（补货建议分组与采购单归属用）
type Supplier struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
}

// Product 表示商品目录中核心关心的字段。
// 单位换算、属性模板等由商品目录服务维护。
type Product struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	SupplierID     *int64 `json:"supplier_id,omitempty"`
}

// ProductUnit 表示商品的包装单位，Factor 为 1 包装单位折合的基础单位数
type ProductUnit struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
	Factor    int64 `json:"factor"`
}

// Actor 表示经认证的操作者上下文，由认证层注入，核心从不自行推导。
type Actor struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Role           string `json:"role"`
}

// 操作者角色
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// IsAdmin 判断操作者是否具有管理员角色
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}
