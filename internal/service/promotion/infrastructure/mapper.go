// internal/service/promotion/infrastructure/mapper.go
package infrastructure

import (
	"emporia/internal/service/promotion/domain"
)

// ToDomainPromoCode 将数据库模型转换为领域模型。
// 折扣类型在这里做一次规范化；规范化失败的记录保留原始值，
// 由领域层的脏数据守卫兜底。
func ToDomainPromoCode(model *PromoCodeModel) *domain.PromoCode {
	if model == nil {
		return nil
	}
	promo := &domain.PromoCode{
		ID:              model.ID,
		Code:            domain.NormalizeCode(model.Code),
		DiscountValue:   model.DiscountValue,
		UsedCount:       model.UsedCount,
		Active:          model.Active,
		EligibilityRule: model.EligibilityRule,
	}

	if t, err := domain.ParseDiscountType(model.Type); err == nil {
		promo.Type = t
	} else {
		promo.Type = domain.DiscountType(model.Type)
	}

	if model.MinPurchase.Valid {
		v := model.MinPurchase.Float64
		promo.MinPurchase = &v
	}
	if model.MaxDiscount.Valid {
		v := model.MaxDiscount.Float64
		promo.MaxDiscount = &v
	}
	if model.UsageLimit.Valid {
		v := model.UsageLimit.Int64
		promo.UsageLimit = &v
	}
	if model.ValidFrom.Valid {
		t := model.ValidFrom.Time
		promo.ValidFrom = &t
	}
	if model.ValidTo.Valid {
		t := model.ValidTo.Time
		promo.ValidTo = &t
	}
	return promo
}
