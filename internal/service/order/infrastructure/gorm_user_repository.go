// internal/service/order/infrastructure/gorm_user_repository.go
package infrastructure

import (
	"context"
	"errors"

	"emporia/internal/pkg/persistence"
	"emporia/internal/service/order/domain"

	"gorm.io/gorm"
)

// GormUserRepository 是 domain.UserRepository 的 GORM 实现。
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	var model UserModel
	err := persistence.DB(ctx, r.db).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return ToDomainUser(&model), nil
}

// DebitBalance 在扣款时刻重新校验余额：守卫在 WHERE 里，
// 余额已经不足时不命中任何行。
func (r *GormUserRepository) DebitBalance(ctx context.Context, userID int64, amount float64) error {
	res := persistence.DB(ctx, r.db).Model(&UserModel{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// Settle 一次写入积分与累计消费；total_spent 单调不减。
func (r *GormUserRepository) Settle(ctx context.Context, userID int64, points int64, spent float64) error {
	res := persistence.DB(ctx, r.db).Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"points":      gorm.Expr("points + ?", points),
			"total_spent": gorm.Expr("total_spent + ?", spent),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
