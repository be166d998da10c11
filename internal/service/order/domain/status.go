// internal/service/order/domain/status.go
package domain

import (
	"fmt"
	"strings"
)

// Status 定义了订单的生命周期状态。
// 状态流转是单向的：PENDING 是唯一的非终态，
// COMPLETED / CANCELLED / FAILED / REFUNDED 都是终态。
type Status string

const (
	StatusPending   Status = "PENDING"   // 已创建，等待结算
	StatusCompleted Status = "COMPLETED" // 支付成功，副作用已全部生效
	StatusCancelled Status = "CANCELLED" // 用户或支付方主动放弃
	StatusFailed    Status = "FAILED"    // 结算失败（余额不足、库存竞争失败等）
	StatusRefunded  Status = "REFUNDED"  // 已退款（由外部对账流程驱动）
)

// Terminal 报告该状态是否不允许任何后续流转。
func (s Status) Terminal() bool {
	return s != StatusPending
}

// PaymentMethod 定义了支付路径。
type PaymentMethod string

const (
	MethodBalance   PaymentMethod = "BALANCE"   // 余额同步扣款
	MethodCard      PaymentMethod = "CARD"      // 托管页跳转，webhook 确认
	MethodPromptPay PaymentMethod = "PROMPTPAY" // 托管页跳转，webhook 确认
)

// ParsePaymentMethod 规范化并校验支付方式，规范化只在这一处发生。
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case MethodBalance:
		return MethodBalance, nil
	case MethodCard:
		return MethodCard, nil
	case MethodPromptPay:
		return MethodPromptPay, nil
	default:
		return "", fmt.Errorf("unknown payment method %q", raw)
	}
}

// Hosted 报告该支付方式是否走托管结账（跳转 + webhook）。
func (m PaymentMethod) Hosted() bool {
	return m == MethodCard || m == MethodPromptPay
}
