// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"errors"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrUserNotFound    = errors.New("user not found")
	// ErrInsufficientStock 表示带守卫的库存扣减没有命中任何行。
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientBalance 表示带守卫的余额扣减没有命中任何行。
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStatusConflict 表示带前置状态守卫的状态更新没有命中任何行，
	// 说明另一个完成流程已经抢先推进了订单。
	ErrStatusConflict = errors.New("order status conflict")
)

// OrderRepository 是订单聚合的仓储端口。
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	// UpdateStatusFrom 带前置状态守卫地推进订单状态；
	// 守卫不通过时返回 ErrStatusConflict。
	UpdateStatusFrom(ctx context.Context, id string, from, to Status) error
	// SetSessionRef 记录托管结账的外部会话引用。
	SetSessionRef(ctx context.Context, id, sessionRef string) error
	// AttachLicenseKey 把签发的 license key 写回订单行。
	AttachLicenseKey(ctx context.Context, itemID int64, key string) error
}

// ProductRepository 是商品目录的仓储端口（引擎只读价格，写库存）。
type ProductRepository interface {
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*Product, error)
	// DecrementStock 带守卫地扣减库存：库存不足时返回 ErrInsufficientStock，
	// 不限量商品不做任何扣减。这同时就是完成时的权威库存复查。
	DecrementStock(ctx context.Context, productID, quantity int64) error
}

// UserRepository 是买家账户的仓储端口。
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	// DebitBalance 带守卫地扣减余额：余额不足时返回 ErrInsufficientBalance。
	DebitBalance(ctx context.Context, userID int64, amount float64) error
	// Settle 发放积分并累加消费额；等级由累计消费派生，无需单独写入。
	Settle(ctx context.Context, userID int64, points int64, spent float64) error
}

// TxRunner 把完成流程的副作用包装为单个原子单元。
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
