// internal/cache/cache.go
package cache

import (
	"context"
	"errors"
	"time"

	"emporia/internal/pkg/logger"
	"emporia/internal/pkg/metrics"
)

// TTLMissing 是 TTL 对不存在（或已过期）的 key 的返回值，语义对齐 Redis 的 -2。
const TTLMissing int64 = -2

// ErrInvalidTTL 表示调用方传入了非正的过期时间，属于误用。
var ErrInvalidTTL = errors.New("cache: ttl must be greater than zero")

// Store 是引擎内部的临时缓存原语：幂等标记、限流计数都建立在它之上。
// 所有实现都必须保证 Incr 在并发调用同一个 key 时是原子的。
type Store interface {
	// Get 返回 key 对应的值；key 不存在或已过期时 ok 为 false。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set 无条件覆盖写入，ttl 必须大于 0。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del 删除 key，key 不存在时不算错误。
	Del(ctx context.Context, key string) error
	// Incr 原子自增。key 不存在或已过期时初始化为 1 并设置 ttl；
	// 已存在时自增并保留剩余 ttl。
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// TTL 返回剩余秒数；key 不存在或已过期时返回 TTLMissing，其余情况不为负。
	TTL(ctx context.Context, key string) (int64, error)
	// Exists 报告 key 是否存在且未过期。
	Exists(ctx context.Context, key string) (bool, error)
	// MSet 以同一个 ttl 批量写入；对并发读者而言这批 key 要么全是旧值，
	// 要么全是新值，不会出现混合视图。
	MSet(ctx context.Context, entries map[string]string, ttl time.Duration) error
	// Stats 返回后端类型和本地条目数的近似值，仅用于诊断。
	Stats(ctx context.Context) Stats
	// HealthCheck 报告运行状态；本地 fallback 上必须无条件成功。
	HealthCheck(ctx context.Context) Health
	// IsEnabled 报告分布式后端是否生效；false 表示运行在进程内 fallback 上。
	IsEnabled() bool
	// Close 释放后端资源。
	Close() error
}

// Stats 是 Store 的诊断快照。
type Stats struct {
	Backend      string `json:"backend"`
	LocalEntries int    `json:"localEntries"`
}

// Health 是 Store 的健康检查结果。
type Health struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// Options 控制 Store 的构造。
type Options struct {
	// RedisAddr 为空时直接使用进程内 fallback。
	RedisAddr string
	// SweepInterval 是本地 fallback 的主动清扫周期，0 使用默认值。
	SweepInterval time.Duration
}

// New 构造缓存层。Redis 不可达不是错误，而是一种配置状态：
// 记一条警告日志后降级到进程内 fallback，调用方通过 IsEnabled 感知。
func New(opts Options) Store {
	if opts.RedisAddr != "" {
		store, err := newRedisStore(opts.RedisAddr)
		if err == nil {
			metrics.CacheFallbackActive.Set(0)
			logger.Logger.Info().Str("addr", opts.RedisAddr).Msg("cache layer using redis backend")
			return store
		}
		logger.Logger.Warn().Err(err).
			Str("addr", opts.RedisAddr).
			Msg("redis unreachable, cache layer falling back to in-process store")
	}
	metrics.CacheFallbackActive.Set(1)
	return newLocalStore(opts.SweepInterval)
}
