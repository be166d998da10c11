// internal/service/order/domain/port/notifier.go
package port

import (
	"context"

	"emporia/internal/service/order/domain"
)

// CompletionNotifier 把订单完成事件广播给下游（通知、推送、报表）。
// 发送失败不回滚订单，完成事务不被通知绑架。
type CompletionNotifier interface {
	OrderCompleted(ctx context.Context, order *domain.Order) error
}
