package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Points   PointsConfig   `mapstructure:"points"`
	Billing  BillingConfig  `mapstructure:"billing"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type StripeConfig struct {
	APIKey                   string        `mapstructure:"api_key"`
	WebhookSecret            string        `mapstructure:"webhook_secret"`
	RequestTimeout           time.Duration `mapstructure:"request_timeout"`
	IgnoreAPIVersionMismatch bool          `mapstructure:"ignore_api_version_mismatch"`
}

type WebhookConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryQueue   string        `mapstructure:"retry_queue"`
	RetryWorkers int           `mapstructure:"retry_workers"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type PointsConfig struct {
	DefaultAward        int64   `mapstructure:"default_award"`
	RevenueSharePercent float64 `mapstructure:"revenue_share_percent"`
}

type BillingConfig struct {
	// 为 true 时，重复订阅除了本地取消外也会在支付平台侧取消
	RemoteCancelDuplicates bool          `mapstructure:"remote_cancel_duplicates"`
	StaleGraceHours        int           `mapstructure:"stale_grace_hours"`
	CreationLockTTL        time.Duration `mapstructure:"creation_lock_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("stripe.request_timeout", 10*time.Second)
	v.SetDefault("stripe.ignore_api_version_mismatch", true)
	v.SetDefault("webhook.max_attempts", 8)
	v.SetDefault("webhook.retry_queue", "billing:webhook:retry")
	v.SetDefault("webhook.retry_workers", 2)
	v.SetDefault("webhook.lock_ttl", 30*time.Second)
	v.SetDefault("webhook.max_body_bytes", 256*1024)
	v.SetDefault("points.default_award", 100)
	v.SetDefault("points.revenue_share_percent", 30)
	v.SetDefault("billing.remote_cancel_duplicates", false)
	v.SetDefault("billing.stale_grace_hours", 72)
	v.SetDefault("billing.creation_lock_ttl", 15*time.Second)
}

func Load(configPath string) (*Config, error) {
	// 优先读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖，例如 STRIPE_API_KEY
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
