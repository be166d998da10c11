// internal/service/order/infrastructure/models.go
package infrastructure

import (
	"database/sql"
	"time"
)

// OrderModel 是 Order 聚合根在数据库中的表示。
type OrderModel struct {
	ID         string  `gorm:"primaryKey;size:36"`
	UserID     int64   `gorm:"index;not null"`
	Subtotal   float64 `gorm:"type:decimal(10,2);not null"`
	Discount   float64 `gorm:"type:decimal(10,2);not null"`
	PromoCode  string  `gorm:"size:64"`
	Total      float64 `gorm:"type:decimal(10,2);not null"`
	Status     string  `gorm:"size:16;index;not null"`
	Method     string  `gorm:"size:16;not null"`
	SessionRef sql.NullString `gorm:"size:128;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 是订单行；单价和完成时需要的商品属性都是下单时的快照。
type OrderItemModel struct {
	ID           int64   `gorm:"primaryKey"`
	OrderID      string  `gorm:"size:36;index;not null"`
	ProductID    int64   `gorm:"index;not null"`
	Quantity     int64   `gorm:"not null"`
	UnitPrice    float64 `gorm:"type:decimal(10,2);not null"`
	RewardPoints int64   `gorm:"not null;default:0"`
	Licensable   bool    `gorm:"not null;default:0"`
	MultiSeat    bool    `gorm:"not null;default:0"`
	LicenseKey   string  `gorm:"type:text"`
	CreatedAt    time.Time
}

func (OrderItemModel) TableName() string { return "order_items" }

// ProductModel 是商品目录表。库存 -1 表示不限量。
type ProductModel struct {
	ID           int64   `gorm:"primaryKey"`
	Name         string  `gorm:"size:255;not null"`
	Price        float64 `gorm:"type:decimal(10,2);not null"`
	Stock        int64   `gorm:"not null;default:0"`
	Active       bool    `gorm:"not null;default:1"`
	RewardPoints int64   `gorm:"not null;default:0"`
	Licensable   bool    `gorm:"not null;default:0"`
	MultiSeat    bool    `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ProductModel) TableName() string { return "products" }

// UserModel 只承载引擎关心的账户字段；身份与会话在外部系统。
type UserModel struct {
	ID         int64   `gorm:"primaryKey"`
	Balance    float64 `gorm:"type:decimal(10,2);not null;default:0"`
	Points     int64   `gorm:"not null;default:0"`
	TotalSpent float64 `gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (UserModel) TableName() string { return "users" }
