// internal/service/order/infrastructure/gorm_catalog_repository.go
package infrastructure

import (
	"context"

	"emporia/internal/pkg/persistence"
	"emporia/internal/service/order/domain"

	"gorm.io/gorm"
)

// GormProductRepository 是 domain.ProductRepository 的 GORM 实现。
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	var models []ProductModel
	if err := persistence.DB(ctx, r.db).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	products := make(map[int64]*domain.Product, len(models))
	for i := range models {
		products[models[i].ID] = ToDomainProduct(&models[i])
	}
	return products, nil
}

// DecrementStock 在一条带守卫的 UPDATE 里完成库存复查与扣减。
// WHERE 条件同时覆盖有限库存（stock >= qty）和不限量哨兵（stock = -1）；
// 不限量商品命中行但不改变库存值。
func (r *GormProductRepository) DecrementStock(ctx context.Context, productID, quantity int64) error {
	res := persistence.DB(ctx, r.db).Model(&ProductModel{}).
		Where("id = ? AND active = ? AND (stock = ? OR stock >= ?)",
			productID, true, domain.UnlimitedStock, quantity).
		Update("stock", gorm.Expr("CASE WHEN stock = ? THEN stock ELSE stock - ? END",
			domain.UnlimitedStock, quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}
