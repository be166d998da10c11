// internal/pkg/persistence/tx.go
package persistence

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// InjectTx 将一个事务句柄放入 ctx，供跨服务的仓储共享同一个事务。
func InjectTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// DB 返回 ctx 中携带的事务句柄；没有事务时退回传入的默认连接。
// 所有 gorm 仓储统一通过这个入口取句柄，事务的组合对仓储透明。
func DB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

// TxManager 把订单完成这类"要么全部生效，要么全部回滚"的操作
// 包装成一个数据库事务。
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// RunInTx 在单个事务内执行 fn；fn 返回错误时整体回滚。
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(InjectTx(ctx, tx))
	})
}
