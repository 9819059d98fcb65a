package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RAIL_"

// 兼容旧客户端的 Key 列表变量名
var legacyKeyVars = []string{"RAIL_API_KEYS", "EXPO_PUBLIC_API_KEYS"}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Keys     KeysConfig     `koanf:"keys"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Quota    QuotaConfig    `koanf:"quota"`
	Storage  StorageConfig  `koanf:"storage"`
	Log      LogConfig      `koanf:"log"`
	Admin    AdminConfig    `koanf:"admin"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

type ServerConfig struct {
	Port      int     `koanf:"port" validate:"gt=0,lte=65535"`
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"` // 每 IP 每秒请求数，0 表示不限流
	RateBurst int     `koanf:"rate_burst" validate:"gte=0"`
}

type KeysConfig struct {
	List   string `koanf:"list"`                                             // 逗号分隔
	Secret string `koanf:"secret" validate:"omitempty,len=16|len=24|len=32"` // 解密 enc: 前缀的 Key
}

type UpstreamConfig struct {
	IRCTCBaseURL string        `koanf:"irctc_base_url" validate:"required,url"`
	PNRBaseURL   string        `koanf:"pnr_base_url" validate:"required,url"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
}

type QuotaConfig struct {
	Detector  string `koanf:"detector" validate:"omitempty,oneof=message_contains never"`
	Substring string `koanf:"substring"`
}

type StorageConfig struct {
	DSN string `koanf:"dsn"` // sqlite DSN，空则不记录尝试日志
}

type LogConfig struct {
	Level     string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format    string `koanf:"format" validate:"omitempty,oneof=json text"`
	File      string `koanf:"file"`
	MaxSizeMB int    `koanf:"max_size_mb" validate:"gte=0"`
}

type AdminConfig struct {
	Token string `koanf:"token"` // 为空时关闭 /admin 接口
}

// TracingConfig 开启后 span 以 JSON 输出到 stdout
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name" validate:"required"`
}

var defaults = map[string]any{
	"server.port":             8000,
	"server.rate_limit":       10.0,
	"server.rate_burst":       20,
	"upstream.irctc_base_url": "https://irctc1.p.rapidapi.com",
	"upstream.pnr_base_url":   "https://irctc-indian-railway-pnr-status.p.rapidapi.com",
	"upstream.timeout":        "15s",
	"quota.detector":          "message_contains",
	"quota.substring":         "exceeded",
	"storage.dsn":             "file::memory:?cache=shared",
	"log.level":               "info",
	"log.format":              "json",
	"log.max_size_mb":         10,
	"tracing.enabled":         false,
	"tracing.service_name":    "rail-gateway",
}

// Load 读取 .env (可选) -> RAIL_CONFIG_FILE 指定的 YAML (可选) -> RAIL_* 环境变量
// Key 列表为空不是错误：服务照常启动，所有查询都会失败
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(os.Getenv(envPrefix + "CONFIG_FILE"))
}

func load(configFile string) (*Config, error) {
	k := koanf.New(".")

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
		}
	}

	// RAIL_SERVER_RATE_LIMIT -> server.rate_limit (只替换第一个下划线)
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	if !k.Exists("keys.list") {
		for _, name := range legacyKeyVars {
			if v := os.Getenv(name); v != "" {
				k.Set("keys.list", v)
				break
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
