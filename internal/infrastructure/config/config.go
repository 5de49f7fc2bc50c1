package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kitwatch/notifier/internal/domain/notification"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mail          MailConfig          `mapstructure:"mail"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	RateLimit       int           `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
}

// MailConfig is read once at startup and never reloaded.
type MailConfig struct {
	Provider       string        `mapstructure:"provider"`
	SenderEmail    string        `mapstructure:"sender_email"`
	SenderName     string        `mapstructure:"sender_name"`
	ReplyTo        string        `mapstructure:"reply_to"`
	DefaultTags    []string      `mapstructure:"default_tags"`
	OutboxPath     string        `mapstructure:"outbox_path"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	BulkConcurrency       int           `mapstructure:"bulk_concurrency"`
	CircuitBreakerTimeout time.Duration `mapstructure:"circuit_breaker_timeout"`

	Brevo  BrevoConfig  `mapstructure:"brevo"`
	SMTP   SMTPConfig   `mapstructure:"smtp"`
	Resend ResendConfig `mapstructure:"resend"`
}

type BrevoConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ResendConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// HasCredential reports whether the selected provider has what it needs to
// authenticate. The mock provider never needs one.
func (m *MailConfig) HasCredential() bool {
	switch m.Provider {
	case "brevo":
		return m.Brevo.APIKey != ""
	case "smtp":
		return m.SMTP.Host != ""
	case "resend":
		return m.Resend.APIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// NotificationSettings converts the mail section into the immutable value
// the notification service works with.
func (m *MailConfig) NotificationSettings() notification.Settings {
	return notification.Settings{
		SenderEmail:   m.SenderEmail,
		SenderName:    m.SenderName,
		ReplyTo:       m.ReplyTo,
		DefaultTags:   append([]string(nil), m.DefaultTags...),
		Provider:      m.Provider,
		HasCredential: m.HasCredential(),
	}
}

type SchedulerConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	Timezone         string   `mapstructure:"timezone"`
	StateFile        string   `mapstructure:"state_file"`
	LogFile          string   `mapstructure:"log_file"`
	ReportRecipients []string `mapstructure:"report_recipients"`
	DemoJobsEnabled  bool     `mapstructure:"demo_jobs_enabled"`
	FlushOnStart     bool     `mapstructure:"flush_on_start"`
}

// Location resolves the configured IANA zone.
func (s *SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"` // json or console
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. KITWATCH_MAIL_SENDER_EMAIL
	v.SetEnvPrefix("KITWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kitwatch")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks structural settings only. Missing sender identity or
// provider credentials is not a startup error: sends fail fast with a
// configuration error instead, so the rest of the service still runs.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	switch c.Mail.Provider {
	case "brevo", "smtp", "resend", "mock":
	default:
		errs = append(errs, fmt.Errorf("mail.provider must be one of brevo, smtp, resend, mock, got %q", c.Mail.Provider))
	}
	if c.Mail.OutboxPath == "" {
		errs = append(errs, fmt.Errorf("mail.outbox_path is required"))
	}
	if c.Mail.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("mail.max_retries must not be negative"))
	}
	if c.Mail.RetryBaseDelay <= 0 || c.Mail.RetryMaxDelay < c.Mail.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("mail.retry_base_delay must be positive and not exceed mail.retry_max_delay"))
	}
	if c.Mail.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("mail.request_timeout must be positive"))
	}
	if c.Mail.BulkConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("mail.bulk_concurrency must be positive"))
	}

	if _, err := c.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err))
	}
	if c.Scheduler.StateFile == "" {
		errs = append(errs, fmt.Errorf("scheduler.state_file is required"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit", 100)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "kitwatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "kitwatch")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")
	v.SetDefault("redis.idempotency_ttl", "24h")

	// Mail defaults
	// Keys without a sensible default are still registered with an empty
	// value so AutomaticEnv picks them up during Unmarshal.
	v.SetDefault("mail.provider", "brevo")
	v.SetDefault("mail.sender_email", "")
	v.SetDefault("mail.sender_name", "Kitwatch")
	v.SetDefault("mail.reply_to", "")
	v.SetDefault("mail.default_tags", []string{"kitwatch"})
	v.SetDefault("mail.outbox_path", "data/email-outbox.json")
	v.SetDefault("mail.max_retries", 3)
	v.SetDefault("mail.retry_base_delay", "500ms")
	v.SetDefault("mail.retry_max_delay", "2s")
	v.SetDefault("mail.request_timeout", "30s")
	v.SetDefault("mail.bulk_concurrency", 5)
	v.SetDefault("mail.circuit_breaker_timeout", "30s")
	v.SetDefault("mail.brevo.api_key", "")
	v.SetDefault("mail.brevo.base_url", "https://api.brevo.com")
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.resend.api_key", "")
	v.SetDefault("mail.resend.base_url", "")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "Europe/Berlin")
	v.SetDefault("scheduler.state_file", "data/scheduler-state.json")
	v.SetDefault("scheduler.log_file", "data/scheduler-log.jsonl")
	v.SetDefault("scheduler.report_recipients", []string{})
	v.SetDefault("scheduler.demo_jobs_enabled", false)
	v.SetDefault("scheduler.flush_on_start", true)

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")

	v.SetDefault("instance_id", "kitwatch-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *DatabaseConfig) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
