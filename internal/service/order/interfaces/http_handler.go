// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"emporia/internal/cache"
	"emporia/internal/pkg/bootstrap"
	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/metrics"
	"emporia/internal/service/order/application"
	"emporia/internal/service/order/domain"
	"emporia/internal/service/order/domain/port"
	promoapp "emporia/internal/service/promotion/application"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "storefront-service"

// StorefrontHandler 封装引擎的 HTTP 处理器。
type StorefrontHandler struct {
	checkout   *application.CheckoutService
	completion *application.CompletionService
	promotions *promoapp.PromotionService
	gateway    port.PaymentGateway
	store      cache.Store
}

// NewStorefrontHandler 创建一个新的 HTTP 处理器实例
func NewStorefrontHandler(
	checkout *application.CheckoutService,
	completion *application.CompletionService,
	promotions *promoapp.PromotionService,
	gateway port.PaymentGateway,
	store cache.Store,
) *StorefrontHandler {
	return &StorefrontHandler{
		checkout:   checkout,
		completion: completion,
		promotions: promotions,
		gateway:    gateway,
		store:      store,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *StorefrontHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/cache/health", h.cacheHealthHandler)
	mux.HandleFunc("/checkout", h.checkoutHandler)
	mux.HandleFunc("/promo/validate", h.validatePromoHandler)
	mux.HandleFunc("/webhooks/payment", h.paymentWebhookHandler)
}

func (h *StorefrontHandler) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.CheckoutHandler")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req application.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int64("user.id", req.UserID))

	// 按买家维度限流：窗口计数器建立在缓存的原子自增之上
	limit := bootstrap.GetCurrentConfig().App.CheckoutRateLimit
	if limit > 0 {
		key := fmt.Sprintf("ratelimit:checkout:%d", req.UserID)
		n, err := h.store.Incr(ctx, key, time.Minute)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("rate limit counter unavailable, allowing request")
		} else if n > int64(limit) {
			http.Error(w, "too many checkout attempts, slow down", http.StatusTooManyRequests)
			return
		}
	}

	resp, err := h.checkout.CreateCheckout(ctx, &req)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeCheckoutError 把应用层错误翻译成 HTTP 状态码。
// 预期内的校验失败不产生 error 级日志。
func (h *StorefrontHandler) writeCheckoutError(w http.ResponseWriter, err error) {
	var cartErr *application.CartError
	var promoErr *application.PromoRejectedError
	switch {
	case errors.As(err, &cartErr):
		writeJSONError(w, http.StatusBadRequest, cartErr.Message)
	case errors.As(err, &promoErr):
		writeJSONError(w, http.StatusBadRequest, promoErr.Reason)
	case errors.Is(err, domain.ErrUserNotFound):
		writeJSONError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeJSONError(w, http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, domain.ErrInsufficientStock):
		writeJSONError(w, http.StatusConflict, "insufficient stock")
	default:
		writeJSONError(w, http.StatusInternalServerError, "checkout failed")
	}
}

type validatePromoRequest struct {
	Code      string  `json:"code"`
	CartTotal float64 `json:"cartTotal"`
	ItemCount int64   `json:"itemCount"`
}

func (h *StorefrontHandler) validatePromoHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.ValidatePromoHandler")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validatePromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.promotions.Validate(ctx, req.Code, req.CartTotal, req.ItemCount)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("promo validation failed")
		writeJSONError(w, http.StatusInternalServerError, "promo validation failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// paymentWebhookHandler 处理来自支付网关的回执。
// 签名校验先于一切：未通过校验的请求体绝不进入业务逻辑。
func (h *StorefrontHandler) paymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.PaymentWebhookHandler")
	defer span.End()

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(rawBody, r.Header.Get("Stripe-Signature"))
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, port.ErrNoSignature):
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "no_signature").Inc()
			http.Error(w, "No signature provided", http.StatusBadRequest)
		case errors.Is(err, port.ErrVerificationFailed):
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
			http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		default:
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
		}
		return
	}
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
	)

	switch event.Type {
	case port.EventCheckoutSessionCompleted, port.EventPaymentIntentSucceeded:
		result, err := h.completion.CompleteFromEvent(ctx, event)
		if err != nil {
			metrics.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
			logger.Ctx(ctx).Error().Err(err).
				Str("event_id", event.ID).
				Str("order_id", event.OrderID).
				Msg("webhook completion failed")
			// 5xx 让网关按退避策略重投递
			writeJSONError(w, http.StatusInternalServerError, "completion failed")
			return
		}
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
		logger.Ctx(ctx).Info().
			Str("event_id", event.ID).
			Str("order_id", result.OrderID).
			Bool("replayed", result.Replayed).
			Msg("webhook event processed")
	default:
		// 未识别的类型确认收到即可，网关不应重投递
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *StorefrontHandler) cacheHealthHandler(w http.ResponseWriter, r *http.Request) {
	health := h.store.HealthCheck(r.Context())
	stats := h.store.Stats(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       health.Status,
		"backend":      health.Backend,
		"localEntries": stats.LocalEntries,
		"distributed":  h.store.IsEnabled(),
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
