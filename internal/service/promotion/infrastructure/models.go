// internal/service/promotion/infrastructure/models.go
package infrastructure

import (
	"database/sql"
	"time"
)

// PromoCodeModel 是 PromoCode 领域对象在数据库中的表示。
type PromoCodeModel struct {
	ID              int64  `gorm:"primaryKey"`
	Code            string `gorm:"uniqueIndex;size:64"`
	Type            string `gorm:"size:16"`
	DiscountValue   float64 `gorm:"type:decimal(10,2)"`
	MinPurchase     sql.NullFloat64 `gorm:"type:decimal(10,2)"`
	MaxDiscount     sql.NullFloat64 `gorm:"type:decimal(10,2)"`
	UsageLimit      sql.NullInt64
	UsedCount       int64 `gorm:"not null;default:0"`
	Active          bool  `gorm:"not null;default:1"`
	ValidFrom       sql.NullTime
	ValidTo         sql.NullTime
	EligibilityRule string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName 指定 GORM 应该使用的表名
func (PromoCodeModel) TableName() string {
	return "promo_codes"
}
