/*
config.go - Service configuration

PURPOSE:
  One Config for the HTTP server and the ledgerctl operator CLI. Values
  come from built-in defaults, then an optional YAML file, then LEDGER_*
  environment variables.

PRECEDENCE:
  environment > file > defaults

SEE ALSO:
  - path.go: Locating the config file
  - cmd/server/main.go, cmd/ledgerctl: Consumers
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Redis     RedisConfig     `koanf:"redis"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	AMQP      AMQPConfig      `koanf:"amqp"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Seed      SeedConfig      `koanf:"seed"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr is the listen address, host:port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// DatabaseConfig selects a store/sqlstore driver. DSN is a file path for
// the SQLite drivers and a go-sql-driver DSN for mysql.
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

type LogConfig struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

// RedisConfig is only used by the rate limiter. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RateLimitConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Capacity       int           `koanf:"capacity"`
	RefillTokens   int           `koanf:"refill_tokens"`
	RefillInterval time.Duration `koanf:"refill_interval"`
	TTL            time.Duration `koanf:"ttl"`
	Prefix         string        `koanf:"prefix"`
}

// AMQPConfig configures the action publisher. An empty URL disables it.
type AMQPConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

// TracingConfig configures the OTLP/HTTP exporter. An empty Endpoint
// leaves the global no-op tracer in place.
type TracingConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Environment string  `koanf:"environment"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

type SeedConfig struct {
	Path string `koanf:"path"`
}

// Load reads the config. An empty path means defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: invalid http.port %d", c.HTTP.Port)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.encoding must be json or console, got %q", c.Log.Encoding)
	}
	if c.RateLimit.Capacity < 1 {
		c.RateLimit.Capacity = 1
	}
	if c.RateLimit.RefillTokens < 1 {
		c.RateLimit.RefillTokens = 1
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	if min := 5 * c.RateLimit.RefillInterval; c.RateLimit.TTL < min {
		c.RateLimit.TTL = min
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("config: tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

func applyDefaults(k *koanf.Koanf) {
	// HTTP
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 8080)
	setDefault(k, "http.allowed_origins", []string{"*"})
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.shutdown_timeout", 10*time.Second)

	// Storage
	setDefault(k, "database.driver", "sqlite3")
	setDefault(k, "database.dsn", "ledger.db")

	// Logging
	setDefault(k, "log.level", "info")
	setDefault(k, "log.encoding", "json")

	// Rate limiting (only active when redis.addr is set)
	setDefault(k, "redis.db", 0)
	setDefault(k, "rate_limit.enabled", true)
	setDefault(k, "rate_limit.capacity", 60)
	setDefault(k, "rate_limit.refill_tokens", 1)
	setDefault(k, "rate_limit.refill_interval", time.Second)
	setDefault(k, "rate_limit.ttl", 10*time.Minute)
	setDefault(k, "rate_limit.prefix", "rl")

	setDefault(k, "amqp.exchange", "ledger.actions")

	setDefault(k, "tracing.service_name", "tour-ledger")
	setDefault(k, "tracing.environment", "development")
	setDefault(k, "tracing.sample_ratio", 1.0)
}

func applyEnvOverrides(k *koanf.Koanf) {
	if port := envInt("LEDGER_HTTP_PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	if driver := os.Getenv("LEDGER_DB_DRIVER"); driver != "" {
		k.Set("database.driver", strings.ToLower(driver))
	}
	if dsn := os.Getenv("LEDGER_DB_DSN"); dsn != "" {
		k.Set("database.dsn", dsn)
	}
	if level := os.Getenv("LEDGER_LOG_LEVEL"); level != "" {
		k.Set("log.level", strings.ToLower(level))
	}
	if addr := os.Getenv("LEDGER_REDIS_ADDR"); addr != "" {
		k.Set("redis.addr", addr)
	}
	if url := os.Getenv("LEDGER_AMQP_URL"); url != "" {
		k.Set("amqp.url", url)
	}
	if endpoint := os.Getenv("LEDGER_TRACING_ENDPOINT"); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
	}
	if seed := os.Getenv("LEDGER_SEED_PATH"); seed != "" {
		k.Set("seed.path", seed)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
