// internal/service/order/application/completion_service_test.go
package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"emporia/internal/cache"
	"emporia/internal/service/order/domain"
	"emporia/internal/service/order/domain/port"
	promoapp "emporia/internal/service/promotion/application"
	promodomain "emporia/internal/service/promotion/domain"

	"go.opentelemetry.io/otel/trace/noop"
)

// ---- in-memory fakes ----

type memOrderRepo struct {
	mu         sync.Mutex
	orders     map[string]*domain.Order
	nextItemID int64
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = make([]domain.OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	return &c
}

func (r *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range order.Items {
		r.nextItemID++
		order.Items[i].ID = r.nextItemID
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memOrderRepo) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *memOrderRepo) UpdateStatusFrom(ctx context.Context, id string, from, to domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	return nil
}

func (r *memOrderRepo) SetSessionRef(ctx context.Context, id, sessionRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.SessionRef = sessionRef
	return nil
}

func (r *memOrderRepo) AttachLicenseKey(ctx context.Context, itemID int64, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				o.Items[i].LicenseKey = key
				return nil
			}
		}
	}
	return domain.ErrOrderNotFound
}

type memProductRepo struct {
	mu         sync.Mutex
	products   map[int64]*domain.Product
	decrements map[int64]int
}

func newMemProductRepo(products ...*domain.Product) *memProductRepo {
	r := &memProductRepo{
		products:   make(map[int64]*domain.Product),
		decrements: make(map[int64]int),
	}
	for _, p := range products {
		c := *p
		r.products[p.ID] = &c
	}
	return r
}

func (r *memProductRepo) FindByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

func (r *memProductRepo) DecrementStock(ctx context.Context, productID, quantity int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Stock == domain.UnlimitedStock {
		r.decrements[productID]++
		return nil
	}
	if p.Stock < quantity {
		return domain.ErrInsufficientStock
	}
	p.Stock -= quantity
	r.decrements[productID]++
	return nil
}

func (r *memProductRepo) stock(id int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].Stock
}

func (r *memProductRepo) decrementCount(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decrements[id]
}

type memUserRepo struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	settles int
}

func newMemUserRepo(users ...*domain.User) *memUserRepo {
	r := &memUserRepo{users: make(map[int64]*domain.User)}
	for _, u := range users {
		c := *u
		r.users[u.ID] = &c
	}
	return r
}

func (r *memUserRepo) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUserRepo) DebitBalance(ctx context.Context, userID int64, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.Balance < amount {
		return domain.ErrInsufficientBalance
	}
	u.Balance -= amount
	return nil
}

func (r *memUserRepo) Settle(ctx context.Context, userID int64, points int64, spent float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Points += points
	u.TotalSpent += spent
	r.settles++
	return nil
}

func (r *memUserRepo) get(id int64) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

type memPromoRepo struct {
	mu     sync.Mutex
	promos map[string]*promodomain.PromoCode
}

func newMemPromoRepo(promos ...*promodomain.PromoCode) *memPromoRepo {
	r := &memPromoRepo{promos: make(map[string]*promodomain.PromoCode)}
	for _, p := range promos {
		c := *p
		r.promos[p.Code] = &c
	}
	return r
}

func (r *memPromoRepo) FindByCode(ctx context.Context, code string) (*promodomain.PromoCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.promos[code]
	if !ok {
		return nil, promodomain.ErrPromoNotFound
	}
	c := *p
	return &c, nil
}

func (r *memPromoRepo) IncrementUsage(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.promos[code]
	if !ok {
		return promodomain.ErrPromoNotFound
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return promodomain.ErrUsageExhausted
	}
	p.UsedCount++
	return nil
}

func (r *memPromoRepo) usedCount(code string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.promos[code].UsedCount
}

// passTx 直接执行函数体。副作用由带守卫的仓储操作保证恰好一次，
// 这里不需要真实的回滚。
type passTx struct{}

func (passTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (n *recordingNotifier) OrderCompleted(ctx context.Context, order *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.ID)
	return nil
}

// brokenStore 模拟缓存整体不可用，所有操作返回错误。
type brokenStore struct {
	cache.Store
}

func (brokenStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("cache unavailable")
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ---- fixture ----

type completionFixture struct {
	orders   *memOrderRepo
	products *memProductRepo
	users    *memUserRepo
	promos   *memPromoRepo
	notifier *recordingNotifier
	store    cache.Store
	svc      *CompletionService
}

func newCompletionFixture(t *testing.T, products []*domain.Product, users []*domain.User, promos []*promodomain.PromoCode) *completionFixture {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")

	f := &completionFixture{
		orders:   newMemOrderRepo(),
		products: newMemProductRepo(products...),
		users:    newMemUserRepo(users...),
		promos:   newMemPromoRepo(promos...),
		notifier: &recordingNotifier{},
		store:    cache.New(cache.Options{}),
	}
	t.Cleanup(func() { f.store.Close() })

	promoSvc := promoapp.NewPromotionService(f.promos, nil, tracer)
	f.svc = NewCompletionService(f.orders, f.products, f.users, promoSvc, f.store, passTx{}, f.notifier, tracer, time.Minute)
	return f
}

func (f *completionFixture) createPendingOrder(t *testing.T, userID int64, method domain.PaymentMethod, promoCode string, items ...domain.OrderItem) *domain.Order {
	t.Helper()
	var subtotal float64
	for _, item := range items {
		subtotal += item.UnitPrice * float64(item.Quantity)
	}
	subtotal = domain.Round2(subtotal)

	var discount float64
	if promoCode != "" {
		promo, err := f.promos.FindByCode(context.Background(), promoCode)
		if err != nil {
			t.Fatalf("fixture promo %s: %v", promoCode, err)
		}
		discount, _ = promo.DiscountFor(subtotal)
	}

	order, err := domain.NewOrder(userID, items, subtotal, discount, promoCode, method)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := f.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// ---- tests ----

func TestCompleteOrder_BalancePath(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Name: "course", Price: 299, Stock: 10, Active: true, RewardPoints: 25}},
		[]*domain.User{{ID: 7, Balance: 1000}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodBalance, "",
		domain.OrderItem{ProductID: 1, Quantity: 1, UnitPrice: 299, RewardPoints: 25})

	result, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceBalance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.StatusCompleted || result.Replayed {
		t.Fatalf("result = %+v, want COMPLETED and not replayed", result)
	}

	user := f.users.get(7)
	if !almostEqual(user.Balance, 701) {
		t.Errorf("balance = %v, want 701", user.Balance)
	}
	if user.Points != 25 {
		t.Errorf("points = %d, want 25", user.Points)
	}
	if !almostEqual(user.TotalSpent, 299) {
		t.Errorf("total spent = %v, want 299", user.TotalSpent)
	}
	if got := f.products.stock(1); got != 9 {
		t.Errorf("stock = %d, want 9", got)
	}
	if len(f.notifier.orders) != 1 || f.notifier.orders[0] != order.ID {
		t.Errorf("notifier received %v, want exactly [%s]", f.notifier.orders, order.ID)
	}
}

func TestCompleteOrder_WebhookPathDoesNotDebitBalance(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 50, Stock: 5, Active: true}},
		[]*domain.User{{ID: 7, Balance: 10}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodCard, "",
		domain.OrderItem{ProductID: 1, Quantity: 2, UnitPrice: 50})

	result, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceWebhook)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", result.Status)
	}

	// 托管路径的钱走外部处理器，内部余额保持不变
	if got := f.users.get(7).Balance; !almostEqual(got, 10) {
		t.Errorf("balance = %v, want untouched 10", got)
	}
	if got := f.products.stock(1); got != 3 {
		t.Errorf("stock = %d, want 3", got)
	}
}

func TestCompleteOrder_SequentialReplay(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 100, Stock: 10, Active: true, RewardPoints: 5}},
		[]*domain.User{{ID: 7, Balance: 500}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodBalance, "",
		domain.OrderItem{ProductID: 1, Quantity: 1, UnitPrice: 100, RewardPoints: 5})

	first, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceBalance)
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	second, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceWebhook)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}

	if first.Replayed {
		t.Error("first completion reported as replay")
	}
	if !second.Replayed || second.Status != domain.StatusCompleted {
		t.Errorf("second = %+v, want replayed COMPLETED", second)
	}
	if got := f.products.decrementCount(1); got != 1 {
		t.Errorf("stock decremented %d times, want 1", got)
	}
	if got := f.users.get(7); got.Points != 5 || !almostEqual(got.Balance, 400) {
		t.Errorf("user = %+v, want points 5 and balance 400", got)
	}
}

func TestCompleteOrder_ConcurrentExactlyOnce(t *testing.T) {
	promoLimit := int64(100)
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 100, Stock: 10, Active: true, RewardPoints: 5}},
		[]*domain.User{{ID: 7, Balance: 500}},
		[]*promodomain.PromoCode{{
			Code: "SAVE10", Type: promodomain.DiscountPercentage, DiscountValue: 10,
			UsageLimit: &promoLimit, Active: true,
		}},
	)
	order := f.createPendingOrder(t, 7, domain.MethodBalance, "SAVE10",
		domain.OrderItem{ProductID: 1, Quantity: 1, UnitPrice: 100, RewardPoints: 5})

	const workers = 8
	results := make([]*CompletionResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.CompleteOrder(context.Background(), order.ID, SourceWebhook)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].Status != domain.StatusCompleted {
			t.Errorf("worker %d observed %s, want COMPLETED", i, results[i].Status)
		}
		if !results[i].Replayed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if got := f.products.decrementCount(1); got != 1 {
		t.Errorf("stock decremented %d times, want 1", got)
	}
	if got := f.promos.usedCount("SAVE10"); got != 1 {
		t.Errorf("promo used %d times, want 1", got)
	}
	if f.users.settles != 1 {
		t.Errorf("settled %d times, want 1", f.users.settles)
	}
	final, err := f.orders.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", final.Status)
	}
}

func TestCompleteOrder_StockRaceMarksFailed(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 100, Stock: 0, Active: true}},
		[]*domain.User{{ID: 7, Balance: 500}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodBalance, "",
		domain.OrderItem{ProductID: 1, Quantity: 1, UnitPrice: 100})

	result, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceBalance)
	if err == nil {
		t.Fatal("expected error for out-of-stock completion")
	}
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("error = %v, want ErrInsufficientStock", err)
	}
	if result == nil || result.Status != domain.StatusFailed {
		t.Fatalf("result = %+v, want FAILED", result)
	}

	final, _ := f.orders.FindByID(context.Background(), order.ID)
	if final.Status != domain.StatusFailed {
		t.Errorf("order status = %s, want FAILED", final.Status)
	}
	// 失败的完成流程不能留下任何账务痕迹
	if got := f.users.get(7); got.Points != 0 || !almostEqual(got.Balance, 500) {
		t.Errorf("user = %+v, want untouched", got)
	}
}

func TestCompleteOrder_UnlimitedStockProduct(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 9.99, Stock: domain.UnlimitedStock, Active: true}},
		[]*domain.User{{ID: 7, Balance: 100}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodBalance, "",
		domain.OrderItem{ProductID: 1, Quantity: 3, UnitPrice: 9.99})

	result, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceBalance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", result.Status)
	}
	if got := f.products.stock(1); got != domain.UnlimitedStock {
		t.Errorf("stock = %d, want unlimited sentinel preserved", got)
	}
}

func TestCompleteOrder_LicenseKeys(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{
			{ID: 1, Price: 100, Stock: 10, Active: true, Licensable: true},
			{ID: 2, Price: 50, Stock: 10, Active: true, Licensable: true, MultiSeat: true},
			{ID: 3, Price: 20, Stock: 10, Active: true},
		},
		[]*domain.User{{ID: 7, Balance: 1000}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodBalance, "",
		domain.OrderItem{ProductID: 1, Quantity: 3, UnitPrice: 100, Licensable: true},
		domain.OrderItem{ProductID: 2, Quantity: 3, UnitPrice: 50, Licensable: true, MultiSeat: true},
		domain.OrderItem{ProductID: 3, Quantity: 1, UnitPrice: 20},
	)

	if _, err := f.svc.CompleteOrder(context.Background(), order.ID, SourceBalance); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := f.orders.FindByID(context.Background(), order.ID)
	byProduct := make(map[int64]domain.OrderItem)
	for _, item := range final.Items {
		byProduct[item.ProductID] = item
	}

	// 单席位商品整行一个 key，多席位按件签发，普通商品不签发
	if keys := strings.Split(byProduct[1].LicenseKey, ","); len(keys) != 1 || keys[0] == "" {
		t.Errorf("product 1 keys = %q, want exactly one", byProduct[1].LicenseKey)
	}
	if keys := strings.Split(byProduct[2].LicenseKey, ","); len(keys) != 3 {
		t.Errorf("product 2 keys = %q, want three", byProduct[2].LicenseKey)
	}
	if byProduct[3].LicenseKey != "" {
		t.Errorf("product 3 key = %q, want none", byProduct[3].LicenseKey)
	}
}

func TestCompleteFromEvent_DuplicateEventSuppressed(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 100, Stock: 10, Active: true}},
		[]*domain.User{{ID: 7, Balance: 500}},
		nil,
	)
	order := f.createPendingOrder(t, 7, domain.MethodCard, "",
		domain.OrderItem{ProductID: 1, Quantity: 1, UnitPrice: 100})

	event := &port.PaymentEvent{ID: "evt_1", Type: port.EventCheckoutSessionCompleted, OrderID: order.ID}

	first, err := f.svc.CompleteFromEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := f.svc.CompleteFromEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if first.Replayed {
		t.Error("first delivery reported as replay")
	}
	if !second.Replayed || second.Status != domain.StatusCompleted {
		t.Errorf("second = %+v, want replayed COMPLETED", second)
	}
	if got := f.products.decrementCount(1); got != 1 {
		t.Errorf("stock decremented %d times, want 1", got)
	}
}

func TestCompleteFromEvent_MissingOrderRef(t *testing.T) {
	f := newCompletionFixture(t, nil, nil, nil)

	_, err := f.svc.CompleteFromEvent(context.Background(), &port.PaymentEvent{
		ID:   "evt_1",
		Type: port.EventCheckoutSessionCompleted,
	})
	if err == nil {
		t.Fatal("expected error for event without order reference")
	}
}

func TestCompleteOrder_CacheDownStillExactlyOnce(t *testing.T) {
	f := newCompletionFixture(t,
		[]*domain.Product{{ID: 1, Price: 100, Stock: 10, Active: true}},
		[]*domain.User{{ID: 7, Balance: 500}},
		nil,
	)
	// 缓存防线整体失效，只剩状态复查 + 守卫更新
	tracer := noop.NewTracerProvider().Tracer("test")
	promoSvc := promoapp.NewPromotionService(f.promos, nil, tracer)
	svc := NewCompletionService(f.orders, f.products, f.users, promoSvc, brokenStore{f.store}, passTx{}, f.notifier, tracer, time.Minute)

	order := f.createPendingOrder(t, 7, domain.MethodBalance, "",
		domain.OrderItem{ProductID: 1, Quantity: 1, UnitPrice: 100})

	first, err := svc.CompleteOrder(context.Background(), order.ID, SourceBalance)
	if err != nil {
		t.Fatalf("first completion: %v", err)
	}
	second, err := svc.CompleteOrder(context.Background(), order.ID, SourceWebhook)
	if err != nil {
		t.Fatalf("second completion: %v", err)
	}

	if first.Status != domain.StatusCompleted || first.Replayed {
		t.Errorf("first = %+v, want fresh COMPLETED", first)
	}
	if !second.Replayed {
		t.Error("second completion applied side effects twice")
	}
	if got := f.products.decrementCount(1); got != 1 {
		t.Errorf("stock decremented %d times, want 1", got)
	}
}

func TestCompleteOrder_UnknownOrder(t *testing.T) {
	f := newCompletionFixture(t, nil, nil, nil)

	_, err := f.svc.CompleteOrder(context.Background(), fmt.Sprintf("no-such-%d", time.Now().UnixNano()), SourceWebhook)
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}
