// internal/service/order/application/dto.go
package application

import (
	"fmt"

	"emporia/internal/service/order/domain"
)

// CartItem 是 checkout 请求里的一行：商品 id + 数量。
type CartItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

// CheckoutRequest 是创建订单的入参。请求体在到达引擎前已由外部
// 中间件完成清洗，这里只做业务校验。
type CheckoutRequest struct {
	UserID    int64      `json:"userId"`
	Items     []CartItem `json:"items"`
	PromoCode string     `json:"promoCode,omitempty"`
	Method    string     `json:"method"`
}

// NextStepRedirect / NextStepSettled 描述 checkout 之后客户端该做什么。
const (
	NextStepSettled  = "settled"  // 余额路径：已同步结算完成
	NextStepRedirect = "redirect" // 托管路径：跳转到外部收银台
)

// CheckoutResponse 是 checkout 的结构化结果。
type CheckoutResponse struct {
	OrderID     string        `json:"orderId"`
	Status      domain.Status `json:"status"`
	Subtotal    float64       `json:"subtotal"`
	Discount    float64       `json:"discount"`
	Total       float64       `json:"total"`
	NextStep    string        `json:"nextStep"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
}

// CompletionResult 是完成流程的结构化结果。
// Replayed 为 true 表示这次调用没有施加任何副作用，
// 返回的是先前（或并发在途）完成流程落定的状态。
type CompletionResult struct {
	OrderID  string        `json:"orderId"`
	Status   domain.Status `json:"status"`
	Replayed bool          `json:"replayed"`
}

// PromoRejectedError 携带促销码被拒绝的人类可读原因。
// 属于预期内的校验失败，不是系统错误。
type PromoRejectedError struct {
	Reason string
}

func (e *PromoRejectedError) Error() string {
	return fmt.Sprintf("promo rejected: %s", e.Reason)
}

// CartError 表示购物车本身不合法（商品不存在、已下架、报价时库存不足）。
type CartError struct {
	Message string
}

func (e *CartError) Error() string { return e.Message }
