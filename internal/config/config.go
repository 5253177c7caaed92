package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the PBS request-path engine.
// It is loaded via viper from a YAML file plus environment overrides,
// following the same layered-config approach the rest of the reporting
// stack uses.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	CORS        CORSConfig        `mapstructure:"cors"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

// MigrationPhase controls which of the two budget-vector columns is the
// source of truth and which columns are written. See spec.md §3.
type MigrationPhase string

const (
	MigrationPhase1 MigrationPhase = "phase_1"
	MigrationPhase2 MigrationPhase = "phase_2"
	MigrationPhase3 MigrationPhase = "phase_3"
	MigrationPhase4 MigrationPhase = "phase_4"
)

func (p MigrationPhase) Valid() bool {
	switch p {
	case MigrationPhase1, MigrationPhase2, MigrationPhase3, MigrationPhase4:
		return true
	}
	return false
}

// ReadsJSON reports whether the JSON column is the source of truth.
func (p MigrationPhase) ReadsJSON() bool {
	return p == MigrationPhase1 || p == MigrationPhase2
}

// WritesJSON reports whether the JSON column must be kept up to date.
func (p MigrationPhase) WritesJSON() bool {
	return p == MigrationPhase1 || p == MigrationPhase2 || p == MigrationPhase3
}

// WritesProto reports whether the proto column must be kept up to date.
func (p MigrationPhase) WritesProto() bool {
	return p != MigrationPhase1
}

type StoreConfig struct {
	DSN             string         `mapstructure:"dsn"`
	MaxConnections  int            `mapstructure:"max_connections"`
	MaxIdleConns    int            `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration  `mapstructure:"conn_max_lifetime"`
	MigrationPhase  MigrationPhase `mapstructure:"migration_phase"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// CoordinatorConfig tunes the outbound SyncHttpClient used when this PBS
// calls its peer coordinator (spec.md §4.1, §4.9).
type CoordinatorConfig struct {
	BaseURL               string        `mapstructure:"base_url"`
	AuthorizedDomain      string        `mapstructure:"authorized_domain"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	InitialBackoff        time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff            time.Duration `mapstructure:"max_backoff"`
	MaxConnectionsPerHost int           `mapstructure:"max_connections_per_host"`
}

type AuthConfig struct {
	RequireAuth bool   `mapstructure:"require_auth"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// Load reads configuration from configPath (a directory) if set, falling
// back to the working directory and /etc/pbs, then overlays environment
// variables.
func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/pbs")
	}

	setDefaults()

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if !cfg.Store.MigrationPhase.Valid() {
		return nil, fmt.Errorf("invalid store.migration_phase %q", cfg.Store.MigrationPhase)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown", "30s")

	viper.SetDefault("store.max_connections", 50)
	viper.SetDefault("store.max_idle_connections", 10)
	viper.SetDefault("store.conn_max_lifetime", "1h")
	viper.SetDefault("store.migration_phase", "phase_1")

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 50)

	viper.SetDefault("coordinator.max_retries", 2)
	viper.SetDefault("coordinator.request_timeout", "5s")
	viper.SetDefault("coordinator.initial_backoff", "100ms")
	viper.SetDefault("coordinator.max_backoff", "2s")
	viper.SetDefault("coordinator.max_connections_per_host", 50)

	viper.SetDefault("auth.require_auth", true)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_minute", 6000)
	viper.SetDefault("rate_limit.burst", 200)
	viper.SetDefault("rate_limit.cleanup_interval", "1m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "")

	viper.SetDefault("cors.allow_credentials", false)
	viper.SetDefault("cors.max_age", 300)
}

func bindEnvVars() {
	viper.BindEnv("server.port", "PBS_SERVER_PORT")
	viper.BindEnv("server.metrics_port", "PBS_METRICS_PORT")

	viper.BindEnv("store.dsn", "PBS_STORE_DSN")
	viper.BindEnv("store.migration_phase", "PBS_MIGRATION_PHASE")

	viper.BindEnv("redis.url", "PBS_REDIS_URL")
	viper.BindEnv("redis.password", "PBS_REDIS_PASSWORD")

	viper.BindEnv("coordinator.base_url", "PBS_COORDINATOR_BASE_URL")
	viper.BindEnv("coordinator.authorized_domain", "PBS_COORDINATOR_AUTHORIZED_DOMAIN")

	viper.BindEnv("auth.jwt_secret", "PBS_JWT_SECRET")

	viper.BindEnv("logging.level", "PBS_LOG_LEVEL")
	viper.BindEnv("logging.format", "PBS_LOG_FORMAT")
}
