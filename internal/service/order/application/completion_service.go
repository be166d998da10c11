// internal/service/order/application/completion_service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"emporia/internal/cache"
	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/metrics"
	"emporia/internal/service/order/domain"
	"emporia/internal/service/order/domain/port"
	promoapp "emporia/internal/service/promotion/application"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Source 标识完成流程的触发方。
type Source string

const (
	SourceBalance Source = "balance" // 余额扣款后的同步调用
	SourceWebhook Source = "webhook" // 已验签的支付事件
)

// CompletionService 把订单从 PENDING 驱动到 COMPLETED，恰好一次。
//
// 两道相互独立的防线配合工作：
//   - 缓存自增的幂等标记，吸收并发与立即重放；
//   - 订单状态的权威复查 + 带前置状态守卫的状态更新，
//     即使缓存整体失效也能保证副作用只施加一次。
//
// 库存、余额、促销次数、积分、累计消费的全部写操作
// 都在一个数据库事务里，要么全部生效，要么全部回滚。
type CompletionService struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	users    domain.UserRepository
	promos   *promoapp.PromotionService
	store    cache.Store
	tx       domain.TxRunner
	notifier port.CompletionNotifier
	tracer   trace.Tracer
	idemTTL  time.Duration
}

func NewCompletionService(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	users domain.UserRepository,
	promos *promoapp.PromotionService,
	store cache.Store,
	tx domain.TxRunner,
	notifier port.CompletionNotifier,
	tracer trace.Tracer,
	idemTTL time.Duration,
) *CompletionService {
	if idemTTL <= 0 {
		idemTTL = 5 * time.Minute
	}
	return &CompletionService{
		orders:   orders,
		products: products,
		users:    users,
		promos:   promos,
		store:    store,
		tx:       tx,
		notifier: notifier,
		tracer:   tracer,
		idemTTL:  idemTTL,
	}
}

// CompleteFromEvent 处理一个已验签的支付事件。
// 事件 id 自身也是一层幂等 key：同一事件的重投递直接按重放返回。
func (s *CompletionService) CompleteFromEvent(ctx context.Context, event *port.PaymentEvent) (*CompletionResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CompleteFromEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
	)

	if event.OrderID == "" {
		return nil, fmt.Errorf("payment event %s carries no order reference", event.ID)
	}

	if event.ID != "" {
		n, err := s.store.Incr(ctx, "webhook:event:"+event.ID, s.idemTTL)
		if err != nil {
			// 缓存不可用时退回订单级防线
			logger.Ctx(ctx).Warn().Err(err).Msg("event idempotency marker unavailable")
		} else if n > 1 {
			metrics.CompletionReplaysTotal.Inc()
			return s.settledResult(ctx, event.OrderID)
		}
	}

	return s.CompleteOrder(ctx, event.OrderID, SourceWebhook)
}

// CompleteOrder 是两条支付路径汇合的完成入口。
func (s *CompletionService) CompleteOrder(ctx context.Context, orderID string, source Source) (*CompletionResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CompleteOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("completion.source", string(source)),
	)

	// 1. 幂等标记：计数器大于 1 说明另一个完成流程在途或已经成功。
	//    成功后计数器留在缓存里直到 TTL 过期，用来吸收立即重放。
	n, err := s.store.Incr(ctx, "order:complete:"+orderID, s.idemTTL)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).
			Msg("idempotency marker unavailable, relying on status re-check")
	} else if n > 1 {
		metrics.CompletionReplaysTotal.Inc()
		span.AddEvent("duplicate completion suppressed by cache marker")
		return s.settledResult(ctx, orderID)
	}

	// 2. 权威复查：已是终态直接返回，不施加副作用。
	//    这条防线独立于缓存，是对 webhook 重放的最终防御。
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Status.Terminal() {
		return &CompletionResult{OrderID: orderID, Status: order.Status, Replayed: true}, nil
	}

	// 3~9. 所有副作用构成一个原子单元
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.applySideEffects(ctx, order)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			// 竞争失败者：事务已整体回滚，读出胜者落定的状态返回
			metrics.CompletionReplaysTotal.Inc()
			return s.settledResult(ctx, orderID)
		}

		// 完整性失败：标记 FAILED，绝不带着超卖的库存悄悄完成。
		// 状态守卫保证不会覆盖并发流程已经落定的终态。
		if markErr := s.orders.UpdateStatusFrom(ctx, orderID, domain.StatusPending, domain.StatusFailed); markErr != nil && !errors.Is(markErr, domain.ErrStatusConflict) {
			logger.Ctx(ctx).Error().Err(markErr).Str("order_id", orderID).Msg("failed to mark order FAILED")
		}
		metrics.OrdersCompletedTotal.WithLabelValues(string(domain.StatusFailed), string(source)).Inc()
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("order completion failed")
		return &CompletionResult{OrderID: orderID, Status: domain.StatusFailed},
			fmt.Errorf("complete order %s: %w", orderID, err)
	}

	metrics.OrdersCompletedTotal.WithLabelValues(string(domain.StatusCompleted), string(source)).Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("source", string(source)).
		Float64("total", order.Total).
		Msg("order completed")

	// 10. 通知尽力而为：发送失败记日志，不影响已提交的完成结果
	order.Status = domain.StatusCompleted
	if s.notifier != nil {
		if err := s.notifier.OrderCompleted(ctx, order); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("completion notification failed")
		}
	}

	return &CompletionResult{OrderID: orderID, Status: domain.StatusCompleted}, nil
}

// applySideEffects 在事务内施加完成的全部副作用。
// 最后一步带前置状态守卫的状态更新是事务的可线性化点：
// 两个并发事务最多只有一个能命中 PENDING→COMPLETED。
func (s *CompletionService) applySideEffects(ctx context.Context, order *domain.Order) error {
	// 库存复查与扣减是同一条带守卫的 UPDATE，不存在先查后减的窗口
	for _, item := range order.Items {
		if err := s.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("decrement stock for product %d: %w", item.ProductID, err)
		}
	}

	// 余额在扣款时刻重新校验，而不是只信报价时的读数
	if order.Method == domain.MethodBalance {
		if err := s.users.DebitBalance(ctx, order.UserID, order.Total); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
	}

	// 促销次数只在这里消耗，且恰好一次
	if order.PromoCode != "" {
		if err := s.promos.Apply(ctx, order.PromoCode); err != nil {
			return err
		}
	}

	// 积分与累计消费一次写入；等级派生自累计消费，无需单独落库
	if err := s.users.Settle(ctx, order.UserID, order.PointsEarned(), order.Total); err != nil {
		return fmt.Errorf("settle user account: %w", err)
	}

	// 签发 license key：每个可授权订单行一个，多席位商品按件签发
	for i := range order.Items {
		item := &order.Items[i]
		if !item.Licensable {
			continue
		}
		count := 1
		if item.MultiSeat {
			count = int(item.Quantity)
		}
		keys := make([]string, count)
		for k := range keys {
			keys[k] = uuid.NewString()
		}
		item.LicenseKey = strings.Join(keys, ",")
		if err := s.orders.AttachLicenseKey(ctx, item.ID, item.LicenseKey); err != nil {
			return fmt.Errorf("attach license key: %w", err)
		}
	}

	return s.orders.UpdateStatusFrom(ctx, order.ID, domain.StatusPending, domain.StatusCompleted)
}

// settledResult 读出订单当前落定的状态，作为重放/竞争失败时的返回值。
// 竞争失败者可能比胜者的提交先到达这里，所以带上限地等待终态，
// 让调用方直接观察到最终结果而不是瞬态的 PENDING。
func (s *CompletionService) settledResult(ctx context.Context, orderID string) (*CompletionResult, error) {
	var order *domain.Order
	var err error
	for i := 0; i < 50; i++ {
		order, err = s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", orderID, err)
		}
		if order.Status.Terminal() {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return &CompletionResult{OrderID: orderID, Status: order.Status, Replayed: true}, nil
}
