package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Store      string
	Encryption EncryptionConfig
	Plaid      PlaidConfig
	Sync       SyncConfig
	Queue      QueueConfig
	Scheduler  SchedulerConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
	// AllowedHosts restricts CORS origins; empty allows any origin.
	AllowedHosts    []string
	ForceHTTPS      bool
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type EncryptionConfig struct {
	Key string
}

type PlaidConfig struct {
	ClientID          string
	Secret            string
	Environment       string
	BaseURL           string
	ClientName        string
	Products          []string
	CountryCodes      []string
	Language          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

type SyncConfig struct {
	MaxPages int
	// LockMode is "advisory" (Postgres, cross-process) or "local" (in-process).
	LockMode string
}

type QueueConfig struct {
	WorkersPerQueue   int
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	JobTimeout        time.Duration
	ListenEnabled     bool
}

type SchedulerConfig struct {
	Enabled      bool
	Cron         string
	Timezone     string
	RunOnStartup bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error
	intEnv := func(key string, def int) int {
		v, err := getIntEnv(key, def)
		errs = append(errs, err)
		return v
	}
	durationEnv := func(key string, def time.Duration) time.Duration {
		v, err := getDurationEnv(key, def)
		errs = append(errs, err)
		return v
	}
	rps, err := strconv.ParseFloat(getEnv("PLAID_REQUESTS_PER_SECOND", "0"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid PLAID_REQUESTS_PER_SECOND: %w", err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Host:            getEnv("HOST", "0.0.0.0"),
			ShutdownTimeout: durationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedHosts:    getListEnv("ALLOWED_HOSTS", nil),
			ForceHTTPS:      getBoolEnv("FORCE_HTTPS", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     intEnv("DB_PORT", 5432),
			User:     getEnv("DB_USER", "spendwise"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "spendwise"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: intEnv("DB_MAX_CONNS", 25),
		},
		Store: strings.ToLower(getEnv("STORE", StorePostgres)),
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Plaid: PlaidConfig{
			ClientID:          getEnv("PLAID_CLIENT_ID", ""),
			Secret:            getEnv("PLAID_SECRET", ""),
			Environment:       getEnv("PLAID_ENV", "sandbox"),
			BaseURL:           getEnv("PLAID_BASE_URL", ""),
			ClientName:        getEnv("PLAID_CLIENT_NAME", "Spendwise"),
			Products:          getListEnv("PLAID_PRODUCTS", []string{"transactions"}),
			CountryCodes:      getListEnv("PLAID_COUNTRY_CODES", []string{"US"}),
			Language:          getEnv("PLAID_LANGUAGE", "en"),
			Timeout:           durationEnv("PLAID_TIMEOUT", 30*time.Second),
			RequestsPerSecond: rps,
			Burst:             intEnv("PLAID_BURST", 1),
		},
		Sync: SyncConfig{
			MaxPages: intEnv("SYNC_MAX_PAGES", 1000),
			LockMode: strings.ToLower(getEnv("SYNC_LOCK_MODE", "advisory")),
		},
		Queue: QueueConfig{
			WorkersPerQueue:   intEnv("QUEUE_WORKERS", 2),
			MaxAttempts:       intEnv("QUEUE_MAX_ATTEMPTS", 5),
			BaseBackoff:       durationEnv("QUEUE_BASE_BACKOFF", time.Second),
			MaxBackoff:        durationEnv("QUEUE_MAX_BACKOFF", 5*time.Minute),
			VisibilityTimeout: durationEnv("QUEUE_VISIBILITY_TIMEOUT", 2*time.Minute+30*time.Second),
			PollInterval:      durationEnv("QUEUE_POLL_INTERVAL", time.Second),
			JobTimeout:        durationEnv("QUEUE_JOB_TIMEOUT", 2*time.Minute),
			ListenEnabled:     getBoolEnv("QUEUE_LISTEN_ENABLED", true),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getBoolEnv("SCHEDULER_ENABLED", true),
			Cron:         getEnv("SCHEDULER_CRON", "0 0 * * *"),
			Timezone:     getEnv("SCHEDULER_TIMEZONE", "UTC"),
			RunOnStartup: getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "spendwise-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9464"),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.Encryption.Key == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required")
		}
		if len(c.Encryption.Key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
		}
	case StoreMemory:
		if c.Sync.LockMode == "advisory" {
			c.Sync.LockMode = "local"
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if c.Sync.LockMode != "advisory" && c.Sync.LockMode != "local" {
		return fmt.Errorf("SYNC_LOCK_MODE must be advisory or local, got %q", c.Sync.LockMode)
	}
	if c.Sync.MaxPages <= 0 {
		return fmt.Errorf("SYNC_MAX_PAGES must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive")
	}
	if c.Queue.BaseBackoff > c.Queue.MaxBackoff {
		return fmt.Errorf("QUEUE_BASE_BACKOFF must not exceed QUEUE_MAX_BACKOFF")
	}
	if c.Queue.VisibilityTimeout <= c.Queue.JobTimeout {
		// A lease shorter than the job lets a second worker claim it mid-run.
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must exceed QUEUE_JOB_TIMEOUT")
	}
	return nil
}

// Validate reports missing provider credentials. Commands that never call the
// provider skip it.
func (p PlaidConfig) Validate() error {
	if p.ClientID == "" {
		return fmt.Errorf("PLAID_CLIENT_ID is required")
	}
	if p.Secret == "" {
		return fmt.Errorf("PLAID_SECRET is required")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// getListEnv splits a comma-separated value, dropping blanks.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
