package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Logger   LoggerConfig   `yaml:"logger"`
	Auth     AuthConfig     `yaml:"auth"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// StoreConfig selects and tunes the ticket storage backend.
type StoreConfig struct {
	Type                    string `yaml:"type"`
	DataDir                 string `yaml:"data_dir"`
	SnapshotIntervalSeconds int    `yaml:"snapshot_interval_seconds"`
	WriteQueueSize          int    `yaml:"write_queue_size"`
	OperationTimeoutSeconds int    `yaml:"operation_timeout_seconds"`
	MigrationLogEvery       int    `yaml:"migration_log_every"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr               string `yaml:"addr"`
	Password           string `yaml:"password"`
	DB                 int    `yaml:"db"`
	PoolSize           int    `yaml:"pool_size"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
}

// SQLiteConfig names the database files of the two SQLite backends.
type SQLiteConfig struct {
	Path       string `yaml:"path"`
	CachedPath string `yaml:"cached_path"`
	PoolSize   int    `yaml:"pool_size"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig defines service token parameters. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// Load reads configuration from environment variables, applying defaults
// where possible, then applies the YAML file named by TICKETS_CONFIG_FILE.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	dataDir := getEnv("STORE_DATA_DIR", "data")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-manager"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Type:                    getEnv("STORE_TYPE", "sqlite"),
			DataDir:                 dataDir,
			SnapshotIntervalSeconds: getEnvAsInt("MEMORY_SNAPSHOT_INTERVAL_SECONDS", 600),
			WriteQueueSize:          getEnvAsInt("STORE_WRITE_QUEUE_SIZE", 4096),
			OperationTimeoutSeconds: getEnvAsInt("STORE_OPERATION_TIMEOUT_SECONDS", 10),
			MigrationLogEvery:       getEnvAsInt("STORE_MIGRATION_LOG_EVERY", 500),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:               getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:           os.Getenv("REDIS_PASSWORD"),
			DB:                 redisDB,
			PoolSize:           getEnvAsInt("REDIS_POOL_SIZE", 0),
			DialTimeoutSeconds: getEnvAsInt("REDIS_DIAL_TIMEOUT_SECONDS", 5),
		},
		SQLite: SQLiteConfig{
			Path:       getEnv("SQLITE_PATH", filepath.Join(dataDir, "tickets-sqlite.db")),
			CachedPath: getEnv("SQLITE_CACHED_PATH", filepath.Join(dataDir, "tickets-cached.db")),
			PoolSize:   getEnvAsInt("SQLITE_POOL_SIZE", 4),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             os.Getenv("AUTH_JWT_SECRET"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
	}

	if path := os.Getenv("TICKETS_CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "sqlite", "cached_sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("invalid STORE_TYPE %q", c.Store.Type)
	}
	if c.Store.Type == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SnapshotInterval returns how often the memory store is written to disk.
func (s StoreConfig) SnapshotInterval() time.Duration {
	if s.SnapshotIntervalSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.SnapshotIntervalSeconds) * time.Second
}

// OperationTimeout bounds a single networked store call.
func (s StoreConfig) OperationTimeout() time.Duration {
	if s.OperationTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.OperationTimeoutSeconds) * time.Second
}

// SnapshotPath is the memory store's snapshot file.
func (s StoreConfig) SnapshotPath() string {
	return filepath.Join(s.DataDir, "tickets-memory.snapshot")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
