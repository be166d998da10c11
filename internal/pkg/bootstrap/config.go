// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config 承载 storefront 服务的全部静态配置。
// 配置来源按优先级：环境变量 > yaml 配置文件 > 内置默认值。
type Config struct {
	App struct {
		ServiceName string `yaml:"serviceName"`
		Port        int    `yaml:"port"`
		// 每个用户每分钟允许发起的 checkout 次数，0 表示不限流
		CheckoutRateLimit int `yaml:"checkoutRateLimit"`
	} `yaml:"app"`

	Infra struct {
		MySQL struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"mysql"`
		Redis struct {
			// Addr 为空时 Cache Layer 直接运行在进程内 fallback 上
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers        string `yaml:"brokers"`
			CompletedTopic string `yaml:"completedTopic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Gateway struct {
			APIBase       string `yaml:"apiBase"`
			SecretKey     string `yaml:"secretKey"`
			WebhookSecret string `yaml:"webhookSecret"`
			SuccessURL    string `yaml:"successUrl"`
			CancelURL     string `yaml:"cancelUrl"`
		} `yaml:"gateway"`
	} `yaml:"infra"`

	Cache struct {
		// 幂等标记的存活秒数，用于吸收 webhook 的立即重放
		IdempotencyTTLSeconds int `yaml:"idempotencyTtlSeconds"`
		SweepIntervalSeconds  int `yaml:"sweepIntervalSeconds"`
	} `yaml:"cache"`
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置快照。
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	c := defaultConfig()
	currentConfig.Store(c)
	return c
}

// LoadConfig 从 yaml 文件加载配置并应用环境变量覆盖。
// path 为空或文件不存在时只使用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	// 环境变量覆盖，保持与容器化部署的约定一致
	cfg.Infra.MySQL.Host = getEnv("MYSQL_HOST", cfg.Infra.MySQL.Host)
	cfg.Infra.MySQL.User = getEnv("MYSQL_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Infra.MySQL.Database)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Gateway.SecretKey = getEnv("GATEWAY_SECRET_KEY", cfg.Infra.Gateway.SecretKey)
	cfg.Infra.Gateway.WebhookSecret = getEnv("GATEWAY_WEBHOOK_SECRET", cfg.Infra.Gateway.WebhookSecret)

	currentConfig.Store(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.ServiceName = "storefront"
	cfg.App.Port = 8080
	cfg.App.CheckoutRateLimit = 30
	cfg.Infra.MySQL.Host = "localhost"
	cfg.Infra.MySQL.Port = 3306
	cfg.Infra.MySQL.User = "root"
	cfg.Infra.MySQL.Database = "storefront"
	cfg.Infra.Kafka.Brokers = "localhost:9092"
	cfg.Infra.Kafka.CompletedTopic = "order-completed-topic"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Gateway.APIBase = "https://api.stripe.com"
	cfg.Infra.Gateway.SuccessURL = "http://localhost:3000/checkout/success"
	cfg.Infra.Gateway.CancelURL = "http://localhost:3000/checkout/cancel"
	cfg.Cache.IdempotencyTTLSeconds = 300
	cfg.Cache.SweepIntervalSeconds = 60
	return cfg
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
