package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Log            LogConfig
	HTTP           HTTPConfig
	Ingest         IngestConfig
	Aggregation    AggregationConfig
	Billing        BillingConfig
	Reconciliation ReconciliationConfig
	Platform       PlatformConfig
	Storage        StorageConfig
	Telemetry      TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	AutoMigrate     bool // sqlite only, postgres uses cmd/migrate
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
	AuthSecret      string // HS256 secret for service tokens, empty disables auth
	AuthIssuer      string
}

// IngestConfig holds meter ingestion settings
type IngestConfig struct {
	WALPath              string
	DeadLetterPath       string
	FlushInterval        time.Duration
	BatchSize            int
	MaxFlushRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// AggregationConfig holds aggregator cadence and window settings
type AggregationConfig struct {
	Enabled          bool
	Interval         time.Duration
	WindowSize       time.Duration
	Grace            time.Duration
	MaxWindowsPerRun int
	BatchLimit       int
}

// BillingConfig holds periodic billing job settings
type BillingConfig struct {
	RuntimeEnabled    bool
	RuntimeInterval   time.Duration
	RuntimeUnitCost   credit.Credit
	DividendEnabled   bool
	DividendRunAt     string // HH:MM UTC
	DividendDailyPool credit.Credit
	AutoTopupEnabled  bool
	AutoTopupInterval time.Duration
	JobLeaseTTL       time.Duration
}

// ReconciliationConfig holds drift report settings
type ReconciliationConfig struct {
	Enabled   bool
	RunAt     string // HH:MM UTC
	Tolerance credit.Credit
	Archive   bool
}

// PlatformConfig holds the hosting platform collaborator endpoint
type PlatformConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	MetricsEnabled    bool    // Whether to export metrics
	LogsEnabled       bool    // Whether to bridge zap logs to OTLP
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	ProfilerEnabled   bool
	ProfilerAddress   string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with BILLING_ prefix (e.g., BILLING_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/billing")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			AuthSecret:      v.GetString("http.auth_secret"),
			AuthIssuer:      v.GetString("http.auth_issuer"),
		},
		Ingest: IngestConfig{
			WALPath:              v.GetString("ingest.wal_path"),
			DeadLetterPath:       v.GetString("ingest.dead_letter_path"),
			FlushInterval:        v.GetDuration("ingest.flush_interval"),
			BatchSize:            v.GetInt("ingest.batch_size"),
			MaxFlushRetries:      v.GetInt("ingest.max_flush_retries"),
			RetryInitialInterval: v.GetDuration("ingest.retry_initial_interval"),
			RetryMaxInterval:     v.GetDuration("ingest.retry_max_interval"),
		},
		Aggregation: AggregationConfig{
			Enabled:          v.GetBool("aggregation.enabled"),
			Interval:         v.GetDuration("aggregation.interval"),
			WindowSize:       v.GetDuration("aggregation.window_size"),
			Grace:            v.GetDuration("aggregation.grace"),
			MaxWindowsPerRun: v.GetInt("aggregation.max_windows_per_run"),
			BatchLimit:       v.GetInt("aggregation.batch_limit"),
		},
		Billing: BillingConfig{
			RuntimeEnabled:    v.GetBool("billing.runtime_enabled"),
			RuntimeInterval:   v.GetDuration("billing.runtime_interval"),
			DividendEnabled:   v.GetBool("billing.dividend_enabled"),
			DividendRunAt:     v.GetString("billing.dividend_run_at"),
			AutoTopupEnabled:  v.GetBool("billing.auto_topup_enabled"),
			AutoTopupInterval: v.GetDuration("billing.auto_topup_interval"),
			JobLeaseTTL:       v.GetDuration("billing.job_lease_ttl"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled: v.GetBool("reconciliation.enabled"),
			RunAt:   v.GetString("reconciliation.run_at"),
			Archive: v.GetBool("reconciliation.archive"),
		},
		Platform: PlatformConfig{
			BaseURL: v.GetString("platform.base_url"),
			Token:   v.GetString("platform.token"),
			Timeout: v.GetDuration("platform.timeout"),
		},
		Storage: StorageConfig{
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			ProfilerEnabled:   v.GetBool("telemetry.profiler_enabled"),
			ProfilerAddress:   v.GetString("telemetry.profiler_address"),
		},
	}

	amounts := []struct {
		key    string
		target *credit.Credit
	}{
		{"billing.runtime_unit_cost", &cfg.Billing.RuntimeUnitCost},
		{"billing.dividend_daily_pool", &cfg.Billing.DividendDailyPool},
		{"reconciliation.tolerance", &cfg.Reconciliation.Tolerance},
	}
	for _, a := range amounts {
		raw := v.GetString(a.key)
		if raw == "" {
			continue
		}
		amount, err := credit.ParseCredit(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.key, err)
		}
		*a.target = amount
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "billing-core"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "billing"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/billing.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.AuthIssuer == "" {
		cfg.HTTP.AuthIssuer = "billing-core"
	}
	if cfg.Ingest.WALPath == "" {
		cfg.Ingest.WALPath = "data/meter-events.wal"
	}
	if cfg.Ingest.DeadLetterPath == "" {
		cfg.Ingest.DeadLetterPath = "data/meter-events.dead.jsonl"
	}
	if cfg.Ingest.FlushInterval == 0 {
		cfg.Ingest.FlushInterval = 5 * time.Second
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 100
	}
	if cfg.Ingest.MaxFlushRetries == 0 {
		cfg.Ingest.MaxFlushRetries = 3
	}
	if cfg.Ingest.RetryInitialInterval == 0 {
		cfg.Ingest.RetryInitialInterval = 100 * time.Millisecond
	}
	if cfg.Ingest.RetryMaxInterval == 0 {
		cfg.Ingest.RetryMaxInterval = 2 * time.Second
	}
	if cfg.Aggregation.Interval == 0 {
		cfg.Aggregation.Interval = time.Minute
	}
	if cfg.Aggregation.WindowSize == 0 {
		cfg.Aggregation.WindowSize = time.Hour
	}
	if cfg.Aggregation.Grace == 0 {
		cfg.Aggregation.Grace = 30 * time.Second
	}
	if cfg.Aggregation.MaxWindowsPerRun == 0 {
		cfg.Aggregation.MaxWindowsPerRun = 24
	}
	if cfg.Aggregation.BatchLimit == 0 {
		cfg.Aggregation.BatchLimit = 5000
	}
	if cfg.Billing.RuntimeInterval == 0 {
		cfg.Billing.RuntimeInterval = time.Hour
	}
	if cfg.Billing.DividendRunAt == "" {
		cfg.Billing.DividendRunAt = "00:30"
	}
	if cfg.Billing.AutoTopupInterval == 0 {
		cfg.Billing.AutoTopupInterval = 15 * time.Minute
	}
	if cfg.Billing.JobLeaseTTL == 0 {
		cfg.Billing.JobLeaseTTL = 30 * time.Minute
	}
	if cfg.Reconciliation.RunAt == "" {
		cfg.Reconciliation.RunAt = "01:00"
	}
	if cfg.Platform.Timeout == 0 {
		cfg.Platform.Timeout = 10 * time.Second
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "reconciliation"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "billing-core"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive")
	}
	if c.Ingest.MaxFlushRetries < 0 {
		return fmt.Errorf("ingest.max_flush_retries cannot be negative")
	}
	if c.Ingest.RetryMaxInterval < c.Ingest.RetryInitialInterval {
		return fmt.Errorf("ingest.retry_max_interval cannot be shorter than ingest.retry_initial_interval")
	}
	if c.Aggregation.WindowSize < time.Second {
		return fmt.Errorf("aggregation.window_size must be at least 1s")
	}
	if (24*time.Hour)%c.Aggregation.WindowSize != 0 {
		return fmt.Errorf("aggregation.window_size %s must divide 24h so windows align with daily reconciliation", c.Aggregation.WindowSize)
	}
	if c.Aggregation.Grace < 0 {
		return fmt.Errorf("aggregation.grace cannot be negative")
	}

	if c.Billing.RuntimeUnitCost.IsNegative() {
		return fmt.Errorf("billing.runtime_unit_cost cannot be negative")
	}
	if c.Billing.DividendDailyPool.IsNegative() {
		return fmt.Errorf("billing.dividend_daily_pool cannot be negative")
	}
	if c.Reconciliation.Tolerance.IsNegative() {
		return fmt.Errorf("reconciliation.tolerance cannot be negative")
	}
	if _, err := ParseClock(c.Billing.DividendRunAt); err != nil {
		return fmt.Errorf("billing.dividend_run_at: %w", err)
	}
	if _, err := ParseClock(c.Reconciliation.RunAt); err != nil {
		return fmt.Errorf("reconciliation.run_at: %w", err)
	}
	if c.Reconciliation.Archive && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when reconciliation.archive is enabled")
	}
	if (c.Billing.RuntimeEnabled || c.Billing.DividendEnabled || c.Billing.AutoTopupEnabled) && c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required when billing jobs are enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		if c.HTTP.AuthSecret == "" {
			return fmt.Errorf("http.auth_secret is required in production")
		}
		if len(c.HTTP.AuthSecret) < 32 {
			return fmt.Errorf("http.auth_secret must be at least 32 characters in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Clock is a wall-clock time of day in UTC.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}
