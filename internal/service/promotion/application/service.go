// internal/service/promotion/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emporia/internal/pkg/logger"
	"emporia/internal/service/promotion/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PromotionService 负责促销码的校验与消耗。
// 校验是纯读操作；消耗只发生在订单完成事务里。
type PromotionService struct {
	promoRepo  domain.Repository
	ruleEngine domain.RuleEngine
	tracer     trace.Tracer
	now        func() time.Time
}

// NewPromotionService 创建促销服务实例。ruleEngine 可以为 nil，
// 此时配置了资格规则的促销码一律按不可用处理。
func NewPromotionService(repo domain.Repository, ruleEngine domain.RuleEngine, tracer trace.Tracer) *PromotionService {
	return &PromotionService{
		promoRepo:  repo,
		ruleEngine: ruleEngine,
		tracer:     tracer,
		now:        time.Now,
	}
}

// Validate 对照购物车总额校验促销码并计算折扣金额。
// 这里绝不递增使用次数——次数只在订单完成时消耗一次。
func (s *PromotionService) Validate(ctx context.Context, code string, cartTotal float64, itemCount int64) (*ValidateResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.Validate")
	defer span.End()

	code = domain.NormalizeCode(code)
	span.SetAttributes(
		attribute.String("promo.code", code),
		attribute.Float64("cart.total", cartTotal),
	)

	// 1. 查找促销码
	promo, err := s.promoRepo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrPromoNotFound) {
			return &ValidateResult{OK: false, Reason: ReasonInvalid}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("find promo code: %w", err)
	}

	// 2. 状态与有效期
	if !promo.Active {
		return &ValidateResult{OK: false, Reason: ReasonInvalid}, nil
	}
	if promo.Expired(s.now()) {
		return &ValidateResult{OK: false, Reason: ReasonExpired}, nil
	}

	// 3. 使用次数上限
	if promo.LimitReached() {
		return &ValidateResult{OK: false, Reason: ReasonLimitReached}, nil
	}

	// 4. 最低消费门槛
	if promo.MinPurchase != nil && cartTotal < *promo.MinPurchase {
		return &ValidateResult{
			OK:     false,
			Reason: fmt.Sprintf("minimum purchase of %.2f not met", *promo.MinPurchase),
		}, nil
	}

	// 5. 可选的 CEL 资格规则
	if promo.EligibilityRule != "" {
		if s.ruleEngine == nil {
			return &ValidateResult{OK: false, Reason: ReasonNotEligible}, nil
		}
		ok, err := s.ruleEngine.Evaluate(promo.EligibilityRule, domain.Fact{
			CartTotal: cartTotal,
			ItemCount: itemCount,
		})
		if err != nil {
			// 规则求值失败只会拒绝，不会放行
			span.RecordError(err)
			logger.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("eligibility rule evaluation failed")
			return &ValidateResult{OK: false, Reason: ReasonNotEligible}, nil
		}
		if !ok {
			return &ValidateResult{OK: false, Reason: ReasonNotEligible}, nil
		}
	}

	// 6. 计算折扣；检测到脏数据时按零折扣拒绝而不是猜测本意
	discount, corrupt := promo.DiscountFor(cartTotal)
	if corrupt {
		logger.Ctx(ctx).Warn().
			Str("code", code).
			Float64("value", promo.DiscountValue).
			Msg("promo record looks corrupt, refusing to apply discount")
		return &ValidateResult{OK: false, Reason: ReasonInvalid}, nil
	}

	span.SetAttributes(attribute.Float64("promo.discount", discount))
	return &ValidateResult{OK: true, Discount: discount}, nil
}

// Apply 消耗一次促销码使用次数。
// 必须且只能在订单完成事务内被调用一次，usage_limit 的守卫在仓储层，
// 并发完成同一张券时败者拿到 ErrUsageExhausted。
func (s *PromotionService) Apply(ctx context.Context, code string) error {
	ctx, span := s.tracer.Start(ctx, "promotion.Apply")
	defer span.End()

	code = domain.NormalizeCode(code)
	span.SetAttributes(attribute.String("promo.code", code))

	if err := s.promoRepo.IncrementUsage(ctx, code); err != nil {
		span.RecordError(err)
		return fmt.Errorf("apply promo %s: %w", code, err)
	}
	return nil
}
