package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all agent configuration loaded from environment variables.
type Config struct {
	Server  ServerConfig
	App     AppConfig
	Store   StoreConfig
	Backend BackendConfig
	Sync    SyncConfig
	Auth    AuthConfig
}

// ServerConfig holds the local HTTP API settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"SERVER_PORT" default:"8787"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"fieldsync-agent"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.2.1"`
}

// StoreConfig selects and configures the durable key-value store.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, memory, redis, mysql, postgres, mongodb
	Path string `envconfig:"STORE_PATH" default:"./data/fieldsync.db"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"fieldsync"`

	// MySQL and PostgreSQL share the SQL settings.
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"0"`
	Name     string `envconfig:"STORE_DB_NAME" default:"fieldsync"`
	User     string `envconfig:"STORE_DB_USER" default:"fieldsync"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`

	MongoURI        string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"fieldsync"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"kv"`
}

// BackendConfig holds the remote backend settings.
type BackendConfig struct {
	BaseURL      string        `envconfig:"BACKEND_BASE_URL" default:"https://suppcenter.global/core"`
	Timeout      time.Duration `envconfig:"BACKEND_TIMEOUT" default:"8s"`
	ProbeTimeout time.Duration `envconfig:"BACKEND_PROBE_TIMEOUT" default:"5s"`
	TenantID     int64         `envconfig:"BACKEND_TENANT_ID" default:"1"`
	DeviceInfo   string        `envconfig:"DEVICE_INFO" default:"Mobile App"`
}

// SyncConfig holds queue, retry and scheduling settings.
type SyncConfig struct {
	MaxRetries           int           `envconfig:"SYNC_MAX_RETRIES" default:"5"`
	BatchSize            int           `envconfig:"SYNC_BATCH_SIZE" default:"10"`
	BackoffBase          time.Duration `envconfig:"SYNC_BACKOFF_BASE" default:"2s"`
	BackoffMax           time.Duration `envconfig:"SYNC_BACKOFF_MAX" default:"60s"`
	GPSQueueCapacity     int           `envconfig:"SYNC_GPS_QUEUE_CAPACITY" default:"50"`
	MaxAge               time.Duration `envconfig:"SYNC_MAX_AGE" default:"168h"`
	SettleDelay          time.Duration `envconfig:"SYNC_SETTLE_DELAY" default:"2s"`
	ConnectivityInterval time.Duration `envconfig:"CONNECTIVITY_INTERVAL" default:"30s"`
	GPSCheckInterval     time.Duration `envconfig:"GPS_CHECK_INTERVAL" default:"20s"`
	OfflineThreshold     int           `envconfig:"CONNECTIVITY_OFFLINE_THRESHOLD" default:"2"`
	CleanupInterval      time.Duration `envconfig:"CLEANUP_INTERVAL" default:"6h"`
}

// AuthConfig holds local API authentication settings.
type AuthConfig struct {
	APIKeys []string `envconfig:"API_KEYS" default:""`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *StoreConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// MySQLDSN returns the MySQL data source name.
func (c *StoreConfig) MySQLDSN() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, port, c.Name)
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *StoreConfig) PostgresDSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, port, c.Name, c.SSLMode)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("SYNC_MAX_RETRIES must be >= 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be >= 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.GPSQueueCapacity < 1 {
		return fmt.Errorf("SYNC_GPS_QUEUE_CAPACITY must be >= 1, got %d", c.Sync.GPSQueueCapacity)
	}
	if c.Sync.OfflineThreshold < 1 {
		return fmt.Errorf("CONNECTIVITY_OFFLINE_THRESHOLD must be >= 1, got %d", c.Sync.OfflineThreshold)
	}
	if c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("SYNC_BACKOFF_MAX (%v) is below SYNC_BACKOFF_BASE (%v)", c.Sync.BackoffMax, c.Sync.BackoffBase)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
