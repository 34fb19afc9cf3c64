package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the substrate the stock ledger runs on.
const (
	BackendRedis = "redis"
	BackendMySQL = "mysql"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type MySQLConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
}

type Config struct {
	HTTPAddr          string      `yaml:"http_addr"`
	LogLevel          string      `yaml:"log_level"`
	StockBackend      string      `yaml:"stock_backend"`
	MySQL             MySQLConfig `yaml:"mysql"`
	Redis             RedisConfig `yaml:"redis"`
	SummaryTTL        Duration    `yaml:"summary_ttl"`
	Retry             RetryConfig `yaml:"retry"`
	ReserveBatchLimit int         `yaml:"reserve_batch_limit"`
	RequestTimeout    Duration    `yaml:"request_timeout"`
}

func Default() Config {
	return Config{
		HTTPAddr:     ":8080",
		LogLevel:     "info",
		StockBackend: BackendRedis,
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/stockcore?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		SummaryTTL: Duration(30 * time.Second),
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: Duration(50 * time.Millisecond),
			MaxInterval:     Duration(time.Second),
		},
		ReserveBatchLimit: 100,
		RequestTimeout:    Duration(5 * time.Second),
	}
}

// Load reads the YAML file at path (skipped when path is empty or absent)
// over the defaults, then applies STOCKCORE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.StockBackend != BackendRedis && cfg.StockBackend != BackendMySQL {
		return cfg, fmt.Errorf("invalid stock_backend %q", cfg.StockBackend)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return cfg, fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if cfg.ReserveBatchLimit < 1 {
		return cfg, fmt.Errorf("reserve_batch_limit must be at least 1")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("STOCKCORE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("STOCKCORE_LOG_LEVEL", cfg.LogLevel)
	cfg.StockBackend = getEnv("STOCKCORE_STOCK_BACKEND", cfg.StockBackend)
	cfg.MySQL.DSN = getEnv("STOCKCORE_MYSQL_DSN", cfg.MySQL.DSN)
	cfg.Redis.Addr = getEnv("STOCKCORE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("STOCKCORE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.SummaryTTL = getEnvDuration("STOCKCORE_SUMMARY_TTL", cfg.SummaryTTL)
	cfg.RequestTimeout = getEnvDuration("STOCKCORE_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.Retry.MaxAttempts = getEnvInt("STOCKCORE_RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.ReserveBatchLimit = getEnvInt("STOCKCORE_RESERVE_BATCH_LIMIT", cfg.ReserveBatchLimit)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback Duration) Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return fallback
}
