// cmd/storefront/main.go
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"emporia/internal/cache"
	"emporia/internal/pkg/bootstrap"
	"emporia/internal/pkg/httpclient"
	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/mq"
	"emporia/internal/pkg/persistence"
	"emporia/internal/service/order/application"
	orderinfra "emporia/internal/service/order/infrastructure"
	"emporia/internal/service/order/infrastructure/adapter"
	"emporia/internal/service/order/interfaces"
	promoapp "emporia/internal/service/promotion/application"
	promoinfra "emporia/internal/service/promotion/infrastructure"
	"emporia/internal/service/promotion/infrastructure/rule"

	"go.opentelemetry.io/otel"
)

const serviceName = "storefront-service"

// main 是应用的组装根：创建并装配所有依赖，然后把进程生命周期
// 交给 bootstrap 托管。
func main() {
	cfg, err := bootstrap.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}

	// 1. 持久层
	db, err := orderinfra.OpenMySQL(cfg)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to open mysql")
	}
	txManager := persistence.NewTxManager(db)
	orderRepo := orderinfra.NewGormOrderRepository(db)
	productRepo := orderinfra.NewGormProductRepository(db)
	userRepo := orderinfra.NewGormUserRepository(db)
	promoRepo := promoinfra.NewGormPromoRepository(db)

	// 2. 缓存层：Redis 不可达时自动降级到进程内 fallback
	store := cache.New(cache.Options{
		RedisAddr:     cfg.Infra.Redis.Addr,
		SweepInterval: time.Duration(cfg.Cache.SweepIntervalSeconds) * time.Second,
	})

	// 3. 出站适配器
	tracer := otel.Tracer(serviceName)
	gateway := adapter.NewStripeGateway(
		httpclient.NewClient(tracer),
		cfg.Infra.Gateway.APIBase,
		cfg.Infra.Gateway.SecretKey,
		cfg.Infra.Gateway.WebhookSecret,
		cfg.Infra.Gateway.SuccessURL,
		cfg.Infra.Gateway.CancelURL,
	)
	kafkaWriter := mq.NewKafkaWriter(
		strings.Split(cfg.Infra.Kafka.Brokers, ","),
		cfg.Infra.Kafka.CompletedTopic,
	)
	notifier := adapter.NewKafkaCompletionNotifier(kafkaWriter)

	// 4. 应用服务
	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to build promo rule engine")
	}
	promoService := promoapp.NewPromotionService(promoRepo, ruleEngine, tracer)
	completionService := application.NewCompletionService(
		orderRepo, productRepo, userRepo, promoService,
		store, txManager, notifier, tracer,
		time.Duration(cfg.Cache.IdempotencyTTLSeconds)*time.Second,
	)
	checkoutService := application.NewCheckoutService(
		orderRepo, productRepo, userRepo, promoService,
		gateway, completionService, tracer,
	)

	// 5. 入站接口 + 进程生命周期
	handler := interfaces.NewStorefrontHandler(checkoutService, completionService, promoService, gateway, store)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			if err := kafkaWriter.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("error closing kafka writer")
			}
			if err := store.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("error closing cache store")
			}
		},
	})
}
