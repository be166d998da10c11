// internal/service/promotion/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"

	"emporia/internal/pkg/persistence"
	"emporia/internal/service/promotion/domain"

	"gorm.io/gorm"
)

// GormPromoRepository 是 domain.Repository 的 GORM 实现。
type GormPromoRepository struct {
	db *gorm.DB
}

func NewGormPromoRepository(db *gorm.DB) *GormPromoRepository {
	return &GormPromoRepository{db: db}
}

// FindByCode 按大写规范化后的 code 查找促销码。
func (r *GormPromoRepository) FindByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var model PromoCodeModel
	err := persistence.DB(ctx, r.db).Where("code = ?", domain.NormalizeCode(code)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPromoNotFound
		}
		return nil, err
	}
	return ToDomainPromoCode(&model), nil
}

// IncrementUsage 带守卫地递增 used_count。
// WHERE 条件同时承担两件事：防止超过 usage_limit，以及在并发完成
// 同一张券时保证只有一个事务真正加一（守卫不通过时 RowsAffected 为 0）。
func (r *GormPromoRepository) IncrementUsage(ctx context.Context, code string) error {
	res := persistence.DB(ctx, r.db).Model(&PromoCodeModel{}).
		Where("code = ? AND active = ? AND (usage_limit IS NULL OR used_count < usage_limit)",
			domain.NormalizeCode(code), true).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUsageExhausted
	}
	return nil
}
