// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Order 是订单聚合的根实体。
// 不变式：Total = Subtotal - Discount，Discount >= 0，Total >= 0。
type Order struct {
	ID        string
	UserID    int64
	Items     []OrderItem
	Subtotal  float64
	Discount  float64
	PromoCode string // 为空表示未使用促销码
	Total     float64
	Status    Status
	Method    PaymentMethod
	// SessionRef 是托管结账的外部会话引用，仅托管路径有值
	SessionRef string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem 是订单行。UnitPrice 是下单时刻的价格快照，
// 之后商品改价不会影响已创建的订单。
type OrderItem struct {
	ID        int64
	ProductID int64
	Quantity  int64
	UnitPrice float64
	// 以下是完成时需要用到的商品属性快照
	RewardPoints int64
	Licensable   bool
	MultiSeat    bool
	// LicenseKey 只在订单完成时签发，且只对可授权商品签发
	LicenseKey string
}

// NewOrder 创建一个 PENDING 状态的新订单并校验金额不变式。
func NewOrder(userID int64, items []OrderItem, subtotal, discount float64, promoCode string, method PaymentMethod) (*Order, error) {
	if userID <= 0 || len(items) == 0 {
		return nil, errors.New("cannot create order with empty required fields")
	}
	if discount < 0 {
		return nil, errors.New("discount must not be negative")
	}
	total := Round2(subtotal - discount)
	if total < 0 {
		total = 0
	}
	now := time.Now()
	return &Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     items,
		Subtotal:  subtotal,
		Discount:  discount,
		PromoCode: promoCode,
		Total:     total,
		Status:    StatusPending,
		Method:    method,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkCompleted 把订单推进到 COMPLETED。
// 只有 PENDING 的订单可以完成；对已完成订单重复调用是无副作用的成功。
func (o *Order) MarkCompleted() error {
	if o.Status == StatusCompleted {
		return nil
	}
	if o.Status != StatusPending {
		return errors.New("only pending orders can be completed")
	}
	o.Status = StatusCompleted
	o.UpdatedAt = time.Now()
	return nil
}

// MarkFailed 把订单推进到 FAILED，只允许从 PENDING 出发。
func (o *Order) MarkFailed() error {
	if o.Status != StatusPending {
		return errors.New("only pending orders can fail")
	}
	o.Status = StatusFailed
	o.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled 取消订单，只允许从 PENDING 出发。
func (o *Order) MarkCancelled() error {
	if o.Status != StatusPending {
		return errors.New("only pending orders can be cancelled")
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// PointsEarned 返回该订单完成时应发放的积分总数。
func (o *Order) PointsEarned() int64 {
	var points int64
	for _, item := range o.Items {
		points += item.RewardPoints * item.Quantity
	}
	return points
}

// ItemCount 返回订单内的商品件数。
func (o *Order) ItemCount() int64 {
	var n int64
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}
