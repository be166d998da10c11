// internal/service/order/infrastructure/adapter/stripe_gateway.go
package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"emporia/internal/pkg/httpclient"
	"emporia/internal/service/order/domain"
	"emporia/internal/service/order/domain/port"

	"github.com/pkg/errors"
)

// 签名时间戳允许的最大偏差，防止旧请求被重放。
const signatureTolerance = 5 * time.Minute

// StripeGateway 通过托管结账会话对接外部支付处理器。
// 会话创建走 form 编码的 REST 调用，回执通过签名 webhook 送达。
type StripeGateway struct {
	client        *httpclient.Client
	apiBase       string
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	now           func() time.Time
}

func NewStripeGateway(client *httpclient.Client, apiBase, secretKey, webhookSecret, successURL, cancelURL string) *StripeGateway {
	return &StripeGateway{
		client:        client,
		apiBase:       strings.TrimRight(apiBase, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		now:           time.Now,
	}
}

type checkoutSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSession 创建一个托管结账会话。
// client_reference_id 携带订单 id，webhook 回来时据此定位订单。
func (g *StripeGateway) CreateSession(ctx context.Context, order *domain.Order) (*port.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", order.ID)
	form.Set("success_url", g.successURL)
	form.Set("cancel_url", g.cancelURL)
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("Order %s", order.ID))
	// 金额以最小货币单位传输。
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(int64(domain.Round2(order.Total)*100+0.5), 10))
	form.Set("line_items[0][quantity]", "1")

	body, err := g.client.PostForm(ctx, g.apiBase+"/v1/checkout/sessions", form, g.secretKey)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode checkout session response")
	}
	if resp.ID == "" || resp.URL == "" {
		return nil, errors.New("checkout session response missing id or url")
	}
	return &port.CheckoutSession{ID: resp.ID, URL: resp.URL}, nil
}

// webhookEnvelope 是 webhook 事件体中引擎关心的字段。
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ClientReferenceID string `json:"client_reference_id"`
			Metadata          struct {
				OrderID string `json:"order_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhookSignature 校验 Stripe 风格的签名头并解析事件。
// 头格式为 "t=<unix>,v1=<hex hmac>"，签名消息是 "<t>.<rawBody>"。
// 任何校验失败都发生在事件体被解析之前。
func (g *StripeGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) (*port.PaymentEvent, error) {
	if signatureHeader == "" {
		return nil, port.ErrNoSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return nil, port.ErrVerificationFailed
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, port.ErrVerificationFailed
	}
	if delta := g.now().Sub(time.Unix(ts, 0)); delta > signatureTolerance || delta < -signatureTolerance {
		return nil, port.ErrVerificationFailed
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	verified := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			verified = true
			break
		}
	}
	if !verified {
		return nil, port.ErrVerificationFailed
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, errors.Wrap(err, "decode webhook event")
	}

	orderID := envelope.Data.Object.ClientReferenceID
	if orderID == "" {
		orderID = envelope.Data.Object.Metadata.OrderID
	}
	return &port.PaymentEvent{
		ID:      envelope.ID,
		Type:    envelope.Type,
		OrderID: orderID,
	}, nil
}
