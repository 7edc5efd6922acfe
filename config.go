package strata

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/dialect/sql"
	"github.com/syssam/strata/pool"
)

// Config holds the engine configuration loaded from YAML.
type Config struct {
	// Dialect is one of sqlite, postgres, mysql.
	Dialect string `yaml:"dialect"`
	// DSN is the backend connection string.
	DSN string `yaml:"dsn"`
	// Pool configures the connection pool.
	Pool PoolConfig `yaml:"pool"`
	// BatchSize caps rows per multi-row INSERT. Zero keeps the default.
	BatchSize int `yaml:"batch_size"`
	// CacheTTL enables result caching with the given TTL when positive.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// SlowQueryThreshold enables slow-query logging when positive.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// PoolConfig mirrors the pool options.
type PoolConfig struct {
	MaxOpen           int           `yaml:"max_open"`
	MinIdle           int           `yaml:"min_idle"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ValidateOnAcquire bool          `yaml:"validate_on_acquire"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strata: reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("strata: parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Dialect {
	case dialect.SQLite, dialect.Postgres, dialect.MySQL:
	case "":
		return fmt.Errorf("strata: config: dialect is required")
	default:
		return fmt.Errorf("strata: config: unsupported dialect %q", c.Dialect)
	}
	if c.DSN == "" {
		return fmt.Errorf("strata: config: dsn is required")
	}
	if c.Pool.MinIdle > c.Pool.MaxOpen && c.Pool.MaxOpen > 0 {
		return fmt.Errorf("strata: config: pool min_idle %d exceeds max_open %d", c.Pool.MinIdle, c.Pool.MaxOpen)
	}
	return nil
}

// OpenPool opens the configured backend behind a connection pool.
func (c *Config) OpenPool() (*pool.Pool, error) {
	var opts []pool.Option
	if c.Pool.MaxOpen > 0 {
		opts = append(opts, pool.MaxOpen(c.Pool.MaxOpen))
	}
	if c.Pool.MinIdle > 0 {
		opts = append(opts, pool.MinIdle(c.Pool.MinIdle))
	}
	if c.Pool.AcquireTimeout > 0 {
		opts = append(opts, pool.AcquireTimeout(c.Pool.AcquireTimeout))
	}
	if c.Pool.IdleTimeout > 0 {
		opts = append(opts, pool.IdleTimeout(c.Pool.IdleTimeout))
	}
	if c.Pool.ValidateOnAcquire {
		opts = append(opts, pool.ValidateOnAcquire())
	}
	return pool.Open(c.Dialect, c.DSN, opts...)
}

// OpenDriver opens the configured backend without pooling. A positive
// SlowQueryThreshold wraps the driver with statistics collection and
// slow-query logging.
func (c *Config) OpenDriver() (dialect.Driver, error) {
	drv, err := sql.Open(c.Dialect, c.DSN)
	if err != nil {
		return nil, err
	}
	if c.SlowQueryThreshold > 0 {
		return sql.NewStatsDriver(drv,
			sql.WithSlowThreshold(c.SlowQueryThreshold),
			sql.WithSlowQueryLog(),
		), nil
	}
	return drv, nil
}

// RepositoryOptions maps the configuration's repository knobs to
// options for NewRepository. A positive CacheTTL enables an in-memory
// result cache.
func RepositoryOptions[T any](c *Config) []RepositoryOption[T] {
	var opts []RepositoryOption[T]
	if c.BatchSize > 0 {
		opts = append(opts, WithBatchSize[T](c.BatchSize))
	}
	if c.CacheTTL > 0 {
		opts = append(opts, WithCache[T](NewMemoryCache(), c.CacheTTL))
	}
	return opts
}
