// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/tracing"

	"golang.org/x/sync/errgroup"
)

type AppCtx struct {
	Mux *http.ServeMux
}

// AppInfo 包含了启动服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)         // 允许服务注册自己的 HTTP 路由
	OnShutdown       func(ctx context.Context)   // 可选：在服务器停止后执行的清理回调
}

// StartService 封装了服务的通用启动和优雅关停逻辑。
// 调用方在 RegisterHandlers 里完成路由装配后，这里接管进程生命周期。
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)

	// 1. 初始化 Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, GetCurrentConfig().Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 创建 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	// 3. 用 errgroup 管理 server goroutine 和信号监听
	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		logger.Logger.Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-gctx.Done():
			return gctx.Err()
		}
		logger.Logger.Info().Msgf("Shutting down service %s...", info.ServiceName)

		// 关停流程整体限时，避免挂死在未完成的请求上
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 按后进先出的顺序清理：先停 HTTP，再执行业务清理，最后冲刷 trace
		if err := server.Shutdown(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("Error shutting down http server")
		}
		if info.OnShutdown != nil {
			info.OnShutdown(ctx)
		}
		if err := tp.Shutdown(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("Error shutting down tracer provider")
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Logger.Fatal().Err(err).Msg("service terminated")
	}
	logger.Logger.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}
