// internal/service/promotion/domain/promo.go
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DiscountType 定义了促销码的折扣计算方式。
// 数据源里这是一个自由字符串，入口处统一规范化为封闭枚举。
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE" // 按比例折扣
	DiscountFixed      DiscountType = "FIXED"      // 固定金额折扣
)

// ParseDiscountType 规范化并校验折扣类型，规范化只在这一处发生。
func ParseDiscountType(raw string) (DiscountType, error) {
	switch DiscountType(strings.ToUpper(strings.TrimSpace(raw))) {
	case DiscountPercentage:
		return DiscountPercentage, nil
	case DiscountFixed:
		return DiscountFixed, nil
	default:
		return "", fmt.Errorf("unknown discount type %q", raw)
	}
}

// NormalizeCode 把促销码规范化为大写，规范化只在入口处发生一次。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PromoCode 是促销码聚合。UsedCount 只会在订单完成事务里递增，
// 校验本身绝不消耗次数。
type PromoCode struct {
	ID            int64
	Code          string // 统一存储为大写
	Type          DiscountType
	DiscountValue float64
	MinPurchase   *float64 // 可选的最低消费门槛
	MaxDiscount   *float64 // 可选的折扣上限，仅对 PERCENTAGE 有意义
	UsageLimit    *int64   // 可选的总使用次数上限
	UsedCount     int64
	Active        bool
	ValidFrom     *time.Time
	ValidTo       *time.Time
	// EligibilityRule 是可选的 CEL 资格表达式，由运营后台配置。
	// 为空表示没有额外限制。
	EligibilityRule string
}

// Expired 报告促销码在给定时刻是否在有效期之外。
func (p *PromoCode) Expired(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return true
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return true
	}
	return false
}

// LimitReached 报告使用次数是否已耗尽。
func (p *PromoCode) LimitReached() bool {
	return p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit
}

// DiscountFor 计算该促销码对 cartTotal 的折扣金额。
// corrupt 为 true 表示存储的折扣数据明显异常（历史脏数据），
// 调用方必须按零折扣拒绝，而不是猜测本意。
func (p *PromoCode) DiscountFor(cartTotal float64) (discount float64, corrupt bool) {
	switch p.Type {
	case DiscountPercentage:
		// 超过 100% 的比例折扣只可能是脏数据
		if p.DiscountValue > 100 {
			return 0, true
		}
		discount = Round2(cartTotal * p.DiscountValue / 100)
		if p.MaxDiscount != nil && discount > *p.MaxDiscount {
			discount = *p.MaxDiscount
		}
	case DiscountFixed:
		discount = p.DiscountValue
		if discount > cartTotal {
			// 固定折扣封顶到购物车总额，总价不为负
			discount = cartTotal
		}
	default:
		return 0, true
	}

	if discount < 0 {
		return 0, true
	}
	// 折后恰好只便宜 1 个货币单位的整单折扣，是一类已知脏数据的特征，
	// 按损坏处理（见历史促销记录的防护规则）
	if p.Type == DiscountPercentage && cartTotal > 1 && discount == Round2(cartTotal-1) {
		return 0, true
	}
	return discount, false
}

// Round2 按货币精度四舍五入到两位小数。
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
