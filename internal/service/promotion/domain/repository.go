// internal/service/promotion/domain/repository.go
package domain

import (
	"context"
	"errors"
)

var (
	// ErrPromoNotFound 表示促销码不存在。
	ErrPromoNotFound = errors.New("promo code not found")
	// ErrUsageExhausted 表示消耗时发现使用次数已经被并发订单用完。
	ErrUsageExhausted = errors.New("promo code usage exhausted")
)

// Repository 是促销码的仓储端口。
type Repository interface {
	// FindByCode 按规范化后的大写 code 查找。
	FindByCode(ctx context.Context, code string) (*PromoCode, error)
	// IncrementUsage 把 used_count 原子加一，带 usage_limit 守卫；
	// 守卫不通过时返回 ErrUsageExhausted。
	// 只允许在订单完成事务内调用。
	IncrementUsage(ctx context.Context, code string) error
}

// Fact 是资格规则的求值输入。
type Fact struct {
	CartTotal float64 `json:"cartTotal"`
	ItemCount int64   `json:"itemCount"`
}

// RuleEngine 把第三方表达式引擎适配到领域接口。
type RuleEngine interface {
	Evaluate(rule string, fact Fact) (bool, error)
}
