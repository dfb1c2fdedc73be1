/*
config.go - pointd configuration

SOURCES (later wins):
  1. Defaults in code           (Default)
  2. YAML file                  (--config, optional)
  3. POINT_* environment        (deployment overrides)

ENVIRONMENT:
  POINT_HTTP_ADDR            server.addr
  POINT_DB_DRIVER            database.driver      sqlite3 | sqlite
  POINT_DB_PATH              database.path
  POINT_MAX_EXPIRE_DAYS      policy.max_expire_days
  POINT_DEF_EXPIRE_DAYS      policy.def_expire_days
  POINT_MAXIMUM_POINT        policy.maximum_point
  POINT_DEF_WALLET_MAXIMUM   policy.def_wallet_maximum_point
  POINT_LOCK_BACKEND         lock.backend         memory | redis
  POINT_REDIS_ADDR           lock.redis_addr
  POINT_KAFKA_BROKERS        kafka.brokers        comma separated
  POINT_KAFKA_TOPIC          kafka.topic
  POINT_JAEGER_ENDPOINT      tracing.endpoint
  POINT_LOG_LEVEL            log.level
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/point-engine/logging"
	"github.com/warp/point-engine/point"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Policy    PolicyConfig    `yaml:"policy"`
	Lock      LockConfig      `yaml:"lock"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       logging.Config  `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// PolicyConfig seeds the policy table. Values stored in the database win
// over these at startup.
type PolicyConfig struct {
	MaxExpireDays     int64 `yaml:"max_expire_days"`
	DefExpireDays     int64 `yaml:"def_expire_days"`
	MaximumPoint      int64 `yaml:"maximum_point"`
	DefWalletMaxPoint int64 `yaml:"def_wallet_maximum_point"`
}

// Values returns the policy as a key/value map for point.MemoryPolicy.Load.
func (p PolicyConfig) Values() map[string]int64 {
	return map[string]int64{
		point.KeyMaxExpireDays: p.MaxExpireDays,
		point.KeyDefExpireDays: p.DefExpireDays,
		point.KeyMaxEarnAmount: p.MaximumPoint,
		point.KeyDefWalletMax:  p.DefWalletMaxPoint,
	}
}

type LockConfig struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether committed entries should be published.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

type TracingConfig struct {
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Default returns a configuration that runs a single node on a local
// sqlite file with the stock policy.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 30 * time.Second},
		Database: DatabaseConfig{Driver: "sqlite3", Path: "points.db"},
		Policy: PolicyConfig{
			MaxExpireDays:     point.DefaultMaxExpireDays,
			DefExpireDays:     point.DefaultExpireDays,
			MaximumPoint:      point.DefaultMaxEarnAmount,
			DefWalletMaxPoint: point.DefaultWalletMax,
		},
		Lock:      LockConfig{Backend: LockMemory, TTL: 10 * time.Second},
		Kafka:     KafkaConfig{Topic: "point-ledger"},
		Tracing:   TracingConfig{ServiceName: "pointd"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: time.Hour},
		Log:       logging.DefaultConfig(),
	}
}

// Load reads path on top of the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("POINT_HTTP_ADDR", &c.Server.Addr)
	str("POINT_DB_DRIVER", &c.Database.Driver)
	str("POINT_DB_PATH", &c.Database.Path)
	str("POINT_LOCK_BACKEND", &c.Lock.Backend)
	str("POINT_REDIS_ADDR", &c.Lock.RedisAddr)
	str("POINT_KAFKA_TOPIC", &c.Kafka.Topic)
	str("POINT_JAEGER_ENDPOINT", &c.Tracing.Endpoint)
	str("POINT_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("POINT_KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}

	for key, dst := range map[string]*int64{
		"POINT_MAX_EXPIRE_DAYS":    &c.Policy.MaxExpireDays,
		"POINT_DEF_EXPIRE_DAYS":    &c.Policy.DefExpireDays,
		"POINT_MAXIMUM_POINT":      &c.Policy.MaximumPoint,
		"POINT_DEF_WALLET_MAXIMUM": &c.Policy.DefWalletMaxPoint,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings that cannot be fixed at runtime.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("database.driver %q: want sqlite3 or sqlite", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Lock.Backend {
	case LockMemory:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("lock.ttl must be positive")
		}
	default:
		return fmt.Errorf("lock.backend %q: want memory or redis", c.Lock.Backend)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if err := point.NewMemoryPolicy().Load(c.Policy.Values()); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}
