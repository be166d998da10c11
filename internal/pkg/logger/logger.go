// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是全局的基础 logger，所有服务共享同一份输出配置。
var Logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init 在服务启动时调用，为全局 logger 附加服务名。
func Init(serviceName string) {
	Logger = Logger.With().Str("service", serviceName).Logger()
}

// Ctx 返回一个绑定了当前 trace 上下文的 logger。
// 如果 ctx 中存在有效的 Span，日志会自动带上 trace_id / span_id，
// 这样可以在 Jaeger 和日志系统之间互相跳转。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &Logger
	}
	l := Logger.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
