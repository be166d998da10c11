// internal/service/order/application/checkout_service.go
package application

import (
	"context"
	"fmt"

	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/metrics"
	"emporia/internal/service/order/domain"
	"emporia/internal/service/order/domain/port"
	promoapp "emporia/internal/service/promotion/application"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CheckoutService 负责把购物车变成一张 PENDING 订单，
// 并根据支付方式决定下一步：余额路径同步结算，托管路径返回跳转地址。
// 这里只读库存和余额，所有写操作都在完成流程里。
type CheckoutService struct {
	orders     domain.OrderRepository
	products   domain.ProductRepository
	users      domain.UserRepository
	promos     *promoapp.PromotionService
	gateway    port.PaymentGateway
	completion *CompletionService
	tracer     trace.Tracer
}

func NewCheckoutService(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	users domain.UserRepository,
	promos *promoapp.PromotionService,
	gateway port.PaymentGateway,
	completion *CompletionService,
	tracer trace.Tracer,
) *CheckoutService {
	return &CheckoutService{
		orders:     orders,
		products:   products,
		users:      users,
		promos:     promos,
		gateway:    gateway,
		completion: completion,
		tracer:     tracer,
	}
}

// CreateCheckout 为购物车定价并创建订单。
func (s *CheckoutService) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateCheckout")
	defer span.End()

	method, err := domain.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, &CartError{Message: err.Error()}
	}
	span.SetAttributes(
		attribute.Int64("user.id", req.UserID),
		attribute.String("payment.method", string(method)),
	)

	if len(req.Items) == 0 {
		return nil, &CartError{Message: "cart is empty"}
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, &CartError{Message: fmt.Sprintf("invalid quantity for product %d", item.ProductID)}
		}
	}

	// 1. 加载买家，等级折扣率由累计消费派生
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", req.UserID, err)
	}
	tierRate := user.Tier().DiscountRate()

	// 2. 加载商品并做报价时的库存读检查（只检查，不锁定）
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	catalog, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	var subtotal float64
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product, ok := catalog[line.ProductID]
		if !ok {
			return nil, &CartError{Message: fmt.Sprintf("product %d not found", line.ProductID)}
		}
		if !product.Active {
			return nil, &CartError{Message: fmt.Sprintf("product %d is not available", line.ProductID)}
		}
		if !product.HasStock(line.Quantity) {
			return nil, &CartError{Message: fmt.Sprintf("insufficient stock for product %d", line.ProductID)}
		}

		// 单价快照 = 目录价 × 等级折扣，之后目录改价不影响本单
		unitPrice := domain.Round2(product.Price * (1 - tierRate))
		items = append(items, domain.OrderItem{
			ProductID:    product.ID,
			Quantity:     line.Quantity,
			UnitPrice:    unitPrice,
			RewardPoints: product.RewardPoints,
			Licensable:   product.Licensable,
			MultiSeat:    product.MultiSeat,
		})
		subtotal += unitPrice * float64(line.Quantity)
	}
	subtotal = domain.Round2(subtotal)

	// 3. 促销码校验（只计算折扣，绝不在这里消耗次数）
	var discount float64
	promoCode := ""
	if req.PromoCode != "" {
		var itemCount int64
		for _, item := range items {
			itemCount += item.Quantity
		}
		result, err := s.promos.Validate(ctx, req.PromoCode, subtotal, itemCount)
		if err != nil {
			return nil, fmt.Errorf("validate promo: %w", err)
		}
		if !result.OK {
			return nil, &PromoRejectedError{Reason: result.Reason}
		}
		discount = result.Discount
		promoCode = req.PromoCode
	}

	// 4. 余额路径在创建订单之前做余额预检：
	//    不足时直接拒绝，不产生任何订单侧效果
	total := domain.Round2(subtotal - discount)
	if total < 0 {
		total = 0
	}
	if method == domain.MethodBalance && user.Balance < total {
		return nil, domain.ErrInsufficientBalance
	}

	// 5. 创建 PENDING 订单
	order, err := domain.NewOrder(req.UserID, items, subtotal, discount, promoCode, method)
	if err != nil {
		return nil, &CartError{Message: err.Error()}
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	metrics.OrdersCreatedTotal.WithLabelValues(string(method)).Inc()

	resp := &CheckoutResponse{
		OrderID:  order.ID,
		Status:   order.Status,
		Subtotal: order.Subtotal,
		Discount: order.Discount,
		Total:    order.Total,
	}

	// 6a. 余额路径：同步走共享的完成流程（真正的扣款在那里做）
	if method == domain.MethodBalance {
		result, err := s.completion.CompleteOrder(ctx, order.ID, SourceBalance)
		if err != nil {
			return nil, err
		}
		resp.Status = result.Status
		resp.NextStep = NextStepSettled
		return resp, nil
	}

	// 6b. 托管路径：创建外部结账会话，订单保持 PENDING 等 webhook
	session, err := s.gateway.CreateSession(ctx, order)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("gateway session creation failed")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if err := s.orders.SetSessionRef(ctx, order.ID, session.ID); err != nil {
		return nil, fmt.Errorf("persist session ref: %w", err)
	}

	resp.NextStep = NextStepRedirect
	resp.RedirectURL = session.URL
	return resp, nil
}
