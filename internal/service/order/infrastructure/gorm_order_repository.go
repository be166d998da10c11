// internal/service/order/infrastructure/gorm_order_repository.go
package infrastructure

import (
	"context"
	"database/sql"
	"errors"

	"emporia/internal/pkg/persistence"
	"emporia/internal/service/order/domain"

	"gorm.io/gorm"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create 持久化订单及其订单行。
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	if err := persistence.DB(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	// 回填数据库生成的订单行 id，后续签发 license key 要用
	for i := range model.Items {
		order.Items[i].ID = model.Items[i].ID
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := persistence.DB(ctx, r.db).Preload("Items").Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return ToDomainOrder(&model), nil
}

// UpdateStatusFrom 带前置状态守卫地推进订单。
// RowsAffected 为 0 说明另一个流程已经抢先改变了状态——
// 这是完成流程可线性化的关键守卫。
func (r *GormOrderRepository) UpdateStatusFrom(ctx context.Context, id string, from, to domain.Status) error {
	res := persistence.DB(ctx, r.db).Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

func (r *GormOrderRepository) SetSessionRef(ctx context.Context, id, sessionRef string) error {
	return persistence.DB(ctx, r.db).Model(&OrderModel{}).
		Where("id = ?", id).
		Update("session_ref", sql.NullString{String: sessionRef, Valid: true}).Error
}

func (r *GormOrderRepository) AttachLicenseKey(ctx context.Context, itemID int64, key string) error {
	return persistence.DB(ctx, r.db).Model(&OrderItemModel{}).
		Where("id = ?", itemID).
		Update("license_key", key).Error
}
