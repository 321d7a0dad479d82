package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Log          LogConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	HTTP         HTTPConfig
	JWT          JWTConfig
	Marketplace  MarketplaceConfig
	Sync         SyncConfig
	Scheduler    SchedulerConfig
	Odoo         OdooConfig
	Notification NotificationConfig
	Storage      StorageConfig
	Telemetry    TelemetryConfig
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
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	StreamKey string
	StreamLen int64
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
	TrustedProxies  []string
}

// JWTConfig holds the settings used to verify bearer tokens on the API
type JWTConfig struct {
	Secret string
	Issuer string
}

// MarketplaceConfig holds SP-API endpoints, credentials and retry tuning
type MarketplaceConfig struct {
	Endpoint      string
	TokenEndpoint string
	MarketplaceID string

	ClientID        string
	ClientSecret    string
	RefreshToken    string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string

	RequestTimeout    time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	SignatureTTL      time.Duration
	TokenExpiryBuffer time.Duration
	PageSize          int
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	Workers  int
	Statuses []string
	LockTTL  time.Duration
}

// SchedulerConfig holds periodic sync configuration
type SchedulerConfig struct {
	Enabled      bool
	Interval     time.Duration
	Lookback     time.Duration
	JobTimeout   time.Duration // zero means no deadline
	QueueSize    int
	RunOnStartup bool
}

// OdooConfig holds the accounting system connection
type OdooConfig struct {
	Enabled      bool
	URL          string
	Database     string
	Username     string
	Password     string
	JournalID    int64
	PostInvoices bool
	Timeout      time.Duration
	FeeAccounts  map[string]int // fee or charge code -> account id
}

// NotificationConfig holds operator notification sinks
type NotificationConfig struct {
	Prefix      string
	MinSeverity int
	Telegram    TelegramConfig
	Slack       SlackConfig
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool
	APIURL   string
	BotToken string
	ChatID   string
}

// SlackConfig holds Slack incoming-webhook settings
type SlackConfig struct {
	Enabled    bool
	WebhookURL string
}

// StorageConfig holds S3-compatible storage for run reports
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	Prefix       string
	LocalDir     string // used instead of S3 when Enabled is false
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
	// Profiling
	ProfilingEnabled   bool
	PyroscopeServerURL string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with KONOZY_ prefix (e.g., KONOZY_ODOO_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("KONOZY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
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
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			StreamKey: v.GetString("redis.stream_key"),
			StreamLen: v.GetInt64("redis.stream_len"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:  v.GetInt("http.max_header_bytes"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Marketplace: MarketplaceConfig{
			Endpoint:          v.GetString("marketplace.endpoint"),
			TokenEndpoint:     v.GetString("marketplace.token_endpoint"),
			MarketplaceID:     v.GetString("marketplace.marketplace_id"),
			ClientID:          v.GetString("marketplace.client_id"),
			ClientSecret:      v.GetString("marketplace.client_secret"),
			RefreshToken:      v.GetString("marketplace.refresh_token"),
			AccessKeyID:       v.GetString("marketplace.access_key_id"),
			SecretAccessKey:   v.GetString("marketplace.secret_access_key"),
			SessionToken:      v.GetString("marketplace.session_token"),
			Region:            v.GetString("marketplace.region"),
			RequestTimeout:    v.GetDuration("marketplace.request_timeout"),
			MaxAttempts:       v.GetInt("marketplace.max_attempts"),
			BaseDelay:         v.GetDuration("marketplace.base_delay"),
			MaxDelay:          v.GetDuration("marketplace.max_delay"),
			SignatureTTL:      v.GetDuration("marketplace.signature_ttl"),
			TokenExpiryBuffer: v.GetDuration("marketplace.token_expiry_buffer"),
			PageSize:          v.GetInt("marketplace.page_size"),
		},
		Sync: SyncConfig{
			Workers:  v.GetInt("sync.workers"),
			Statuses: v.GetStringSlice("sync.statuses"),
			LockTTL:  v.GetDuration("sync.lock_ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled:      v.GetBool("scheduler.enabled"),
			Interval:     v.GetDuration("scheduler.interval"),
			Lookback:     v.GetDuration("scheduler.lookback"),
			JobTimeout:   v.GetDuration("scheduler.job_timeout"),
			QueueSize:    v.GetInt("scheduler.queue_size"),
			RunOnStartup: v.GetBool("scheduler.run_on_startup"),
		},
		Odoo: OdooConfig{
			Enabled:      v.GetBool("odoo.enabled"),
			URL:          v.GetString("odoo.url"),
			Database:     v.GetString("odoo.database"),
			Username:     v.GetString("odoo.username"),
			Password:     v.GetString("odoo.password"),
			JournalID:    v.GetInt64("odoo.journal_id"),
			PostInvoices: v.GetBool("odoo.post_invoices"),
			Timeout:      v.GetDuration("odoo.timeout"),
			FeeAccounts:  feeAccounts(v.GetStringMap("odoo.fee_accounts")),
		},
		Notification: NotificationConfig{
			Prefix:      v.GetString("notification.prefix"),
			MinSeverity: v.GetInt("notification.min_severity"),
			Telegram: TelegramConfig{
				Enabled:  v.GetBool("notification.telegram.enabled"),
				APIURL:   v.GetString("notification.telegram.api_url"),
				BotToken: v.GetString("notification.telegram.bot_token"),
				ChatID:   v.GetString("notification.telegram.chat_id"),
			},
			Slack: SlackConfig{
				Enabled:    v.GetBool("notification.slack.enabled"),
				WebhookURL: v.GetString("notification.slack.webhook_url"),
			},
		},
		Storage: StorageConfig{
			Enabled:      v.GetBool("storage.enabled"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			Prefix:       v.GetString("storage.prefix"),
			LocalDir:     v.GetString("storage.local_dir"),
		},
		Telemetry: TelemetryConfig{
			Enabled:            v.GetBool("telemetry.enabled"),
			CollectorEndpoint:  v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:      v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:        v.GetString("telemetry.service_name"),
			Insecure:           v.GetBool("telemetry.insecure"),
			DBTraceEnabled:     v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:       v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh:  v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:   v.GetBool("telemetry.profiling_enabled"),
			PyroscopeServerURL: v.GetString("telemetry.pyroscope_server_url"),
		},
	}
}

// applyDefaults sets default values for any empty config fields
// feeAccounts restores the upper-case codes viper folds to lower case.
// Entries that are not positive account ids are dropped.
func feeAccounts(raw map[string]any) map[string]int {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]int, len(raw))
	for code, v := range raw {
		id, err := cast.ToIntE(v)
		if err != nil || id <= 0 {
			continue
		}
		out[strings.ToUpper(code)] = id
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "konozy-ordersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
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
		cfg.Database.DBName = "ordersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "ordersync.db"
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
	if cfg.Redis.StreamKey == "" {
		cfg.Redis.StreamKey = "konozy:events"
	}
	if cfg.Redis.StreamLen == 0 {
		cfg.Redis.StreamLen = 100000
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
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "konozy"
	}

	if cfg.Marketplace.Endpoint == "" {
		cfg.Marketplace.Endpoint = "https://sellingpartnerapi-eu.amazon.com"
	}
	if cfg.Marketplace.TokenEndpoint == "" {
		cfg.Marketplace.TokenEndpoint = "https://api.amazon.com/auth/o2/token"
	}
	if cfg.Marketplace.MarketplaceID == "" {
		cfg.Marketplace.MarketplaceID = "ARBP9OOSHTCHU" // Egypt
	}
	if cfg.Marketplace.Region == "" {
		cfg.Marketplace.Region = "eu-west-1"
	}
	if cfg.Marketplace.RequestTimeout == 0 {
		cfg.Marketplace.RequestTimeout = 20 * time.Second
	}
	if cfg.Marketplace.MaxAttempts == 0 {
		cfg.Marketplace.MaxAttempts = 3
	}
	if cfg.Marketplace.BaseDelay == 0 {
		cfg.Marketplace.BaseDelay = time.Second
	}
	if cfg.Marketplace.MaxDelay == 0 {
		cfg.Marketplace.MaxDelay = 30 * time.Second
	}
	if cfg.Marketplace.SignatureTTL == 0 {
		cfg.Marketplace.SignatureTTL = 5 * time.Minute
	}
	if cfg.Marketplace.TokenExpiryBuffer == 0 {
		cfg.Marketplace.TokenExpiryBuffer = 5 * time.Minute
	}
	if cfg.Marketplace.PageSize == 0 {
		cfg.Marketplace.PageSize = 100
	}

	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if len(cfg.Sync.Statuses) == 0 {
		cfg.Sync.Statuses = []string{"Shipped"}
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 30 * time.Minute
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Hour
	}
	if cfg.Scheduler.Lookback == 0 {
		cfg.Scheduler.Lookback = 24 * time.Hour
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 4
	}

	if cfg.Odoo.Timeout == 0 {
		cfg.Odoo.Timeout = 30 * time.Second
	}
	if cfg.Notification.Prefix == "" {
		cfg.Notification.Prefix = "[KONOZY]"
	}
	if cfg.Notification.MinSeverity == 0 {
		cfg.Notification.MinSeverity = 20
	}
	if cfg.Notification.Telegram.APIURL == "" {
		cfg.Notification.Telegram.APIURL = "https://api.telegram.org"
	}

	if cfg.Storage.Endpoint == "" {
		cfg.Storage.Endpoint = "http://localhost:9000"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "konozy-sync-reports"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "konozy-ordersync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.PyroscopeServerURL == "" {
		cfg.Telemetry.PyroscopeServerURL = "http://localhost:4040"
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

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1")
	}
	if c.Marketplace.MaxAttempts < 0 {
		return fmt.Errorf("marketplace.max_attempts cannot be negative")
	}
	if c.Marketplace.PageSize < 1 || c.Marketplace.PageSize > 100 {
		return fmt.Errorf("marketplace.page_size must be between 1 and 100, got %d", c.Marketplace.PageSize)
	}
	if c.Scheduler.Enabled && c.Scheduler.Lookback < c.Scheduler.Interval {
		return fmt.Errorf("scheduler.lookback (%s) must cover scheduler.interval (%s)",
			c.Scheduler.Lookback, c.Scheduler.Interval)
	}

	if c.Odoo.Enabled && (c.Odoo.URL == "" || c.Odoo.Database == "" || c.Odoo.Username == "") {
		return fmt.Errorf("odoo.url, odoo.database and odoo.username are required when odoo is enabled")
	}
	if c.Notification.Telegram.Enabled && (c.Notification.Telegram.BotToken == "" || c.Notification.Telegram.ChatID == "") {
		return fmt.Errorf("notification.telegram.bot_token and chat_id are required when telegram is enabled")
	}
	if c.Notification.Slack.Enabled && c.Notification.Slack.WebhookURL == "" {
		return fmt.Errorf("notification.slack.webhook_url is required when slack is enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
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

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
