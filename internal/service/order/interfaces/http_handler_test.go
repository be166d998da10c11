// internal/service/order/interfaces/http_handler_test.go
package interfaces

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"emporia/internal/cache"
	"emporia/internal/service/order/application"
	"emporia/internal/service/order/domain"
	"emporia/internal/service/order/infrastructure/adapter"
	promoapp "emporia/internal/service/promotion/application"
	promodomain "emporia/internal/service/promotion/domain"

	"go.opentelemetry.io/otel/trace/noop"
)

const handlerTestSecret = "whsec_handler_test"

// ---- minimal fakes, enough to drive the handler end to end ----

type stubOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func (r *stubOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *order
	r.orders[order.ID] = &c
	return nil
}

func (r *stubOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (r *stubOrderRepo) UpdateStatusFrom(ctx context.Context, id string, from, to domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	return nil
}

func (r *stubOrderRepo) SetSessionRef(ctx context.Context, id, ref string) error { return nil }

func (r *stubOrderRepo) AttachLicenseKey(ctx context.Context, itemID int64, key string) error {
	return nil
}

func (r *stubOrderRepo) status(id string) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id].Status
}

type stubProductRepo struct {
	mu         sync.Mutex
	decrements int
}

func (r *stubProductRepo) FindByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	return map[int64]*domain.Product{}, nil
}

func (r *stubProductRepo) DecrementStock(ctx context.Context, productID, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decrements++
	return nil
}

type stubUserRepo struct{}

func (stubUserRepo) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id, Balance: 1000}, nil
}
func (stubUserRepo) DebitBalance(ctx context.Context, userID int64, amount float64) error {
	return nil
}
func (stubUserRepo) Settle(ctx context.Context, userID int64, points int64, spent float64) error {
	return nil
}

type stubPromoRepo struct{}

func (stubPromoRepo) FindByCode(ctx context.Context, code string) (*promodomain.PromoCode, error) {
	return nil, promodomain.ErrPromoNotFound
}
func (stubPromoRepo) IncrementUsage(ctx context.Context, code string) error {
	return promodomain.ErrPromoNotFound
}

type stubTx struct{}

func (stubTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type handlerFixture struct {
	handler  *StorefrontHandler
	mux      *http.ServeMux
	orders   *stubOrderRepo
	products *stubProductRepo
	store    cache.Store
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	store := cache.New(cache.Options{})
	t.Cleanup(func() { store.Close() })

	orders := &stubOrderRepo{orders: make(map[string]*domain.Order)}
	products := &stubProductRepo{}
	gateway := adapter.NewStripeGateway(nil, "https://api.example.com", "sk_test", handlerTestSecret,
		"https://shop/success", "https://shop/cancel")

	promoSvc := promoapp.NewPromotionService(stubPromoRepo{}, nil, tracer)
	completion := application.NewCompletionService(orders, products, stubUserRepo{}, promoSvc,
		store, stubTx{}, nil, tracer, time.Minute)
	checkout := application.NewCheckoutService(orders, products, stubUserRepo{}, promoSvc,
		gateway, completion, tracer)

	f := &handlerFixture{
		handler:  NewStorefrontHandler(checkout, completion, promoSvc, gateway, store),
		mux:      http.NewServeMux(),
		orders:   orders,
		products: products,
		store:    store,
	}
	f.handler.RegisterRoutes(f.mux)
	return f
}

func (f *handlerFixture) seedPendingOrder(t *testing.T, id string) {
	t.Helper()
	order := &domain.Order{
		ID:     id,
		UserID: 7,
		Items:  []domain.OrderItem{{ID: 1, ProductID: 1, Quantity: 1, UnitPrice: 100}},
		Total:  100,
		Status: domain.StatusPending,
		Method: domain.MethodCard,
	}
	if err := f.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func signBody(ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(handlerTestSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(f *handlerFixture, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestPaymentWebhook_MissingSignature(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postWebhook(f, []byte(`{}`), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No signature provided") {
		t.Errorf("body = %q, want missing-signature message", rec.Body.String())
	}
}

func TestPaymentWebhook_BadSignature(t *testing.T) {
	f := newHandlerFixture(t)

	rec := postWebhook(f, []byte(`{}`), "t=1,v1=deadbeef")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Webhook signature verification failed") {
		t.Errorf("body = %q, want verification-failed message", rec.Body.String())
	}
}

func TestPaymentWebhook_CompletesOrder(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedPendingOrder(t, "order-1")

	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"client_reference_id": "order-1"}}
	}`)
	rec := postWebhook(f, body, signBody(time.Now().Unix(), body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["received"] {
		t.Error("response missing received ack")
	}
	if got := f.orders.status("order-1"); got != domain.StatusCompleted {
		t.Errorf("order status = %s, want COMPLETED", got)
	}
}

func TestPaymentWebhook_DuplicateDelivery(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedPendingOrder(t, "order-1")

	body := []byte(`{
		"id": "evt_dup",
		"type": "payment_intent.succeeded",
		"data": {"object": {"client_reference_id": "order-1"}}
	}`)

	for i := 0; i < 3; i++ {
		rec := postWebhook(f, body, signBody(time.Now().Unix(), body))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i, rec.Code)
		}
	}

	if f.products.decrements != 1 {
		t.Errorf("stock decremented %d times across redeliveries, want 1", f.products.decrements)
	}
	if got := f.orders.status("order-1"); got != domain.StatusCompleted {
		t.Errorf("order status = %s, want COMPLETED", got)
	}
}

func TestPaymentWebhook_UnrecognizedTypeAcked(t *testing.T) {
	f := newHandlerFixture(t)
	f.seedPendingOrder(t, "order-1")

	body := []byte(`{
		"id": "evt_other",
		"type": "charge.refunded",
		"data": {"object": {"client_reference_id": "order-1"}}
	}`)
	rec := postWebhook(f, body, signBody(time.Now().Unix(), body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack", rec.Code)
	}
	if got := f.orders.status("order-1"); got != domain.StatusPending {
		t.Errorf("order status = %s, want untouched PENDING", got)
	}
}

func TestCheckoutHandler_ErrorMapping(t *testing.T) {
	f := newHandlerFixture(t)

	// 空目录的 stub 让任何商品都命中 "not found" 的购物车错误
	body, _ := json.Marshal(application.CheckoutRequest{
		UserID: 7,
		Items:  []application.CartItem{{ProductID: 1, Quantity: 1}},
		Method: "BALANCE",
	})
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Error("error body missing message")
	}
}

func TestCheckoutHandler_RejectsNonPost(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestCacheHealthEndpoint(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/cache/health", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["backend"] != "local" {
		t.Errorf("backend = %v, want local fallback", resp["backend"])
	}
	if resp["distributed"] != false {
		t.Errorf("distributed = %v, want false", resp["distributed"])
	}
}
