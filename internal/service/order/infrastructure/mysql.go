// internal/service/order/infrastructure/mysql.go
package infrastructure

import (
	"fmt"

	"emporia/internal/pkg/bootstrap"
	promoinfra "emporia/internal/service/promotion/infrastructure"

	driver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMySQL 建立数据库连接并迁移引擎负责的表。
func OpenMySQL(cfg *bootstrap.Config) (*gorm.DB, error) {
	mysqlCfg := driver.NewConfig()
	mysqlCfg.User = cfg.Infra.MySQL.User
	mysqlCfg.Passwd = cfg.Infra.MySQL.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.Infra.MySQL.Host, cfg.Infra.MySQL.Port)
	mysqlCfg.DBName = cfg.Infra.MySQL.Database
	mysqlCfg.ParseTime = true

	db, err := gorm.Open(gormmysql.Open(mysqlCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	if err := db.AutoMigrate(
		&OrderModel{},
		&OrderItemModel{},
		&ProductModel{},
		&UserModel{},
		&promoinfra.PromoCodeModel{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
