// internal/service/promotion/application/dto.go
package application

// ValidateResult 是促销码校验的结构化结果。
// 预期内的拒绝（码不存在、次数用完、未达门槛）通过 OK=false + Reason 表达，
// 不作为 error 向上传播。
type ValidateResult struct {
	OK       bool    `json:"ok"`
	Discount float64 `json:"discount"`
	Reason   string  `json:"reason,omitempty"`
}

// 人类可读的拒绝原因，直接透传给店面展示。
const (
	ReasonInvalid      = "promo code invalid"
	ReasonExpired      = "promo code expired"
	ReasonLimitReached = "limit reached"
	ReasonNotEligible  = "promo code not applicable to this cart"
)
