// internal/service/order/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/mq"
	"emporia/internal/service/order/domain"

	"github.com/segmentio/kafka-go"
)

// KafkaCompletionNotifier 把订单完成事件发布到 Kafka，
// 供下游（邮件、履约、报表）消费。实现 port.CompletionNotifier。
type KafkaCompletionNotifier struct {
	writer *kafka.Writer
}

func NewKafkaCompletionNotifier(writer *kafka.Writer) *KafkaCompletionNotifier {
	return &KafkaCompletionNotifier{writer: writer}
}

type orderCompletedEvent struct {
	OrderID       string  `json:"order_id"`
	UserID        int64   `json:"user_id"`
	Total         float64 `json:"total"`
	PointsEarned  int64   `json:"points_earned"`
	PaymentMethod string  `json:"payment_method"`
	CompletedAt   string  `json:"completed_at"`
}

// OrderCompleted 发布完成事件。调用方按尽力而为处理返回的错误：
// 通知失败不回滚已完成的订单。
func (n *KafkaCompletionNotifier) OrderCompleted(ctx context.Context, order *domain.Order) error {
	event := orderCompletedEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Total:         order.Total,
		PointsEarned:  order.PointsEarned(),
		PaymentMethod: string(order.Method),
		CompletedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := mq.ProduceMessage(ctx, n.writer, []byte(order.ID), payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("发布订单完成事件失败")
		return err
	}
	logger.Ctx(ctx).Info().Str("order_id", order.ID).Msg("订单完成事件已发布")
	return nil
}
