package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Business  BusinessConfig  `mapstructure:"business"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port             int   `mapstructure:"port"`
	WorkerID         int64 `mapstructure:"worker_id"`
	WebhookBodyLimit int64 `mapstructure:"webhook_body_limit"`
}

// DatabaseConfig 数据库配置
// driver 支持 mysql / postgres / sqlite；dsn 非空时优先使用
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SettlementResult string `mapstructure:"settlement_result"`
	PayoutAccount    string `mapstructure:"payout_account"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ProcessorConfig 外部支付处理方配置
type ProcessorConfig struct {
	APIBase            string          `mapstructure:"api_base"`
	SecretKey          string          `mapstructure:"secret_key"`
	WebhookSecret      string          `mapstructure:"webhook_secret"`
	SignatureHeader    string          `mapstructure:"signature_header"`
	SignatureTolerance time.Duration   `mapstructure:"signature_tolerance"`
	Timeout            time.Duration   `mapstructure:"timeout"`
	MaxAttempts        int             `mapstructure:"max_attempts"`
	Backoff            time.Duration   `mapstructure:"backoff"`
	FeePercent         decimal.Decimal `mapstructure:"fee_percent"`
	FeeFixedMinor      int64           `mapstructure:"fee_fixed_minor"`
}

type BusinessConfig struct {
	PlatformFeePercent decimal.Decimal `mapstructure:"platform_fee_percent"`
	MinChargeMinor     int64           `mapstructure:"min_charge_minor"`
	DefaultCurrency    string          `mapstructure:"default_currency"`
	ChargeLockTTL      time.Duration   `mapstructure:"charge_lock_ttl"`
	SweepInterval      time.Duration   `mapstructure:"sweep_interval"`
	StaleAfter         time.Duration   `mapstructure:"stale_after"`
	SweepBatchSize     int             `mapstructure:"sweep_batch_size"`
	OutboxInterval     time.Duration   `mapstructure:"outbox_interval"`
	OutboxBatchSize    int             `mapstructure:"outbox_batch_size"`
	MaxRetryCount      int             `mapstructure:"max_retry_count"`
	FeeCacheTTL        time.Duration   `mapstructure:"fee_cache_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig 加载配置文件
//
// 优先级：环境变量 > .env > 配置文件 > 默认值
// 环境变量名为配置键大写、点号替换为下划线，如 processor.secret_key -> PROCESSOR_SECRET_KEY
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.Business.DefaultCurrency = strings.ToUpper(cfg.Business.DefaultCurrency)
	return cfg, nil
}

// Validate 检查运行所必需的密钥是否齐全
func (c *Config) Validate() error {
	var missing []string
	if c.Processor.SecretKey == "" {
		missing = append(missing, "processor.secret_key")
	}
	if c.Processor.WebhookSecret == "" {
		missing = append(missing, "processor.webhook_secret")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必要配置: %s", strings.Join(missing, ", "))
	}
	if c.Business.PlatformFeePercent.IsNegative() || c.Business.PlatformFeePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("platform_fee_percent 必须在 [0, 100) 之间: %s", c.Business.PlatformFeePercent)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.webhook_body_limit", 1<<20)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "campuspay")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.settlement_result", "settlement-result")
	v.SetDefault("kafka.topic.payout_account", "payout-account")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("processor.api_base", "https://api.stripe.com")
	v.SetDefault("processor.secret_key", "")
	v.SetDefault("processor.webhook_secret", "")
	v.SetDefault("processor.signature_header", "Stripe-Signature")
	v.SetDefault("processor.signature_tolerance", "5m")
	v.SetDefault("processor.timeout", "20s")
	v.SetDefault("processor.max_attempts", 2)
	v.SetDefault("processor.backoff", "500ms")
	v.SetDefault("processor.fee_percent", "2.9")
	v.SetDefault("processor.fee_fixed_minor", 30)

	v.SetDefault("business.platform_fee_percent", "10")
	v.SetDefault("business.min_charge_minor", 50)
	v.SetDefault("business.default_currency", "USD")
	v.SetDefault("business.charge_lock_ttl", "30s")
	v.SetDefault("business.sweep_interval", "1m")
	v.SetDefault("business.stale_after", "5m")
	v.SetDefault("business.sweep_batch_size", 50)
	v.SetDefault("business.outbox_interval", "200ms")
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.fee_cache_ttl", "10m")

	v.SetDefault("log.level", "info")
}

// decimalHook 将 yaml/env 中的字符串或数字解析为 decimal.Decimal
func decimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		}
		return data, nil
	}
}
