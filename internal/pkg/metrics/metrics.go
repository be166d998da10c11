// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 订单与支付对账引擎的核心指标。
// 只统计有业务含义的计数，诊断性数据走日志而不是指标。
var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_created_total",
		Help: "Number of orders created, labelled by payment method.",
	}, []string{"method"})

	OrdersCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_orders_completed_total",
		Help: "Number of orders driven to a terminal state, labelled by status and source.",
	}, []string{"status", "source"})

	CompletionReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_completion_replays_total",
		Help: "Duplicate completion attempts suppressed by the idempotency guards.",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhook_events_total",
		Help: "Inbound payment webhook events, labelled by event type and outcome.",
	}, []string{"type", "outcome"})

	CacheFallbackActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_cache_local_fallback_active",
		Help: "1 when the cache layer is running on the in-process fallback.",
	})
)
