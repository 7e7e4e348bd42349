package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Cache backends.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// Config is parsed once at startup and passed explicitly to every component.
type Config struct {
	Server   Server   `envPrefix:"AUTHZEN_"`
	OPA      OPA      `envPrefix:"OPA_"`
	Database Database `envPrefix:"DATABASE_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	TxCache  TxCache  `envPrefix:"TXCACHE_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr             string        `env:"ADDR" envDefault:":8080"`
	PIPAddr          string        `env:"PIP_ADDR" envDefault:":8282"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	ConcurrencyLimit int           `env:"CONCURRENCY_LIMIT" envDefault:"250"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"json"`
}

// OPA locates the policy engine and its diagnostics switches.
type OPA struct {
	Scheme     string        `env:"SCHEME" envDefault:"http"`
	Host       string        `env:"HOST" envDefault:"localhost"`
	Port       int           `env:"PORT" envDefault:"8181"`
	DataPath   string        `env:"DATA_PATH" envDefault:"app"`
	Query      string        `env:"QUERY" envDefault:"authz"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"30s"`
	RetryMax   int           `env:"RETRY_MAX" envDefault:"2"`
	Explain    string        `env:"EXPLAIN"`
	Pretty     bool          `env:"PRETTY"`
	Instrument bool          `env:"INSTRUMENT"`
	Metrics    bool          `env:"METRICS"`
}

// BaseURL joins scheme, host and port.
func (o OPA) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

// Database configures the postgres pool.
type Database struct {
	URL             string        `env:"URL"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
	Migrate         bool          `env:"MIGRATE" envDefault:"true"`
}

// Redis configures the shared redis client.
type Redis struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// TxCache configures the transaction overlay. The memory backend lives inside
// one process: the api and the pip binaries only share an overlay through
// redis, so memory suits single-process setups and tests.
type TxCache struct {
	Backend      string        `env:"BACKEND" envDefault:"redis"`
	TTL          time.Duration `env:"TTL" envDefault:"120s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
}

// Kafka configures the optional decision audit stream.
type Kafka struct {
	Brokers    []string `env:"BROKERS" envSeparator:","`
	AuditTopic string   `env:"AUDIT_TOPIC" envDefault:"authzen.decisions"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return Parse(env.Options{})
}

// Parse parses with explicit options; tests pass Environment to avoid
// touching the process environment.
func Parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that would silently disable guarantees.
func (c Config) Validate() error {
	switch {
	case c.TxCache.TTL <= 0:
		return errors.New("TXCACHE_TTL must be positive")
	case c.TxCache.WriteTimeout <= 0:
		return errors.New("TXCACHE_WRITE_TIMEOUT must be positive")
	case c.OPA.Timeout <= 0:
		return errors.New("OPA_TIMEOUT must be positive")
	case c.Server.RequestTimeout <= 0:
		return errors.New("AUTHZEN_REQUEST_TIMEOUT must be positive")
	case c.OPA.RetryMax < 0:
		return errors.New("OPA_RETRY_MAX must not be negative")
	}
	switch c.TxCache.Backend {
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			return errors.New("TXCACHE_BACKEND=redis requires REDIS_URL; set TXCACHE_BACKEND=memory for a single process")
		}
	case CacheBackendMemory:
	default:
		return fmt.Errorf("unknown TXCACHE_BACKEND %q", c.TxCache.Backend)
	}
	return nil
}
