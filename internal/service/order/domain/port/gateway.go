// internal/service/order/domain/port/gateway.go
package port

import (
	"context"
	"errors"

	"emporia/internal/service/order/domain"
)

var (
	// ErrNoSignature 表示入站 webhook 缺少签名头。
	ErrNoSignature = errors.New("no signature provided")
	// ErrVerificationFailed 表示签名头存在但校验不通过。
	ErrVerificationFailed = errors.New("webhook signature verification failed")
)

// CheckoutSession 是托管结账会话：买家被重定向到 URL，
// 结果稍后通过 webhook 送达。
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentEvent 是签名校验通过后的支付事件。
// 签名校验是事件被解析和处理的唯一授权。
type PaymentEvent struct {
	ID      string // 外部事件 id，webhook 路径的幂等 key
	Type    string // 例如 checkout.session.completed
	OrderID string
}

// 引擎会触发完成流程的事件类型；其余类型确认收到但忽略。
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
)

// PaymentGateway 是外部支付处理器的边界。
type PaymentGateway interface {
	// CreateSession 为订单创建可跳转的托管结账会话。
	// 失败表现为 checkout 失败，订单保持 PENDING。
	CreateSession(ctx context.Context, order *domain.Order) (*CheckoutSession, error)
	// VerifyWebhookSignature 校验原始请求体与签名头。
	// 缺失签名与签名错误是两类不同的错误，都必须在事件被解析前拒绝。
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) (*PaymentEvent, error)
}
