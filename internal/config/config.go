package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	Security  SecurityConfig  `yaml:"security"`
	JWT       JWTConfig       `yaml:"jwt" envPrefix:"JWT_"`
	Gateway   GatewayConfig   `yaml:"gateway" envPrefix:"GATEWAY_"`
	Payment   PaymentConfig   `yaml:"payment" envPrefix:"PAYMENT_"`
	Mail      MailConfig      `yaml:"mail" envPrefix:"MAIL_"`
	Kafka     KafkaConfig     `yaml:"kafka" envPrefix:"KAFKA_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Rules     RulesConfig     `yaml:"status_rules"`
}

type ServerConfig struct {
	Host            string `yaml:"host" env:"HOST"`
	Port            int    `yaml:"port" env:"PORT"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

// DatabaseConfig selects the store. Driver "memory" runs without PostgreSQL.
type DatabaseConfig struct {
	Driver      string `yaml:"driver" env:"DRIVER"`
	Host        string `yaml:"host" env:"HOST"`
	Port        int    `yaml:"port" env:"PORT"`
	User        string `yaml:"user" env:"USER"`
	Password    string `yaml:"password" env:"PASSWORD"`
	Database    string `yaml:"database" env:"NAME"`
	SSLMode     string `yaml:"ssl_mode" env:"SSL_MODE"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

type SecurityConfig struct {
	// CredentialKey encrypts processor credentials. Exactly 32 bytes.
	CredentialKey string `yaml:"credential_key" env:"CREDENTIAL_KEY"`
}

type JWTConfig struct {
	Secret               string `yaml:"secret" env:"SECRET"`
	SessionExpiryMinutes int    `yaml:"session_expiry_minutes"`
	PaymentExpiryMinutes int    `yaml:"payment_expiry_minutes"`
}

type GatewayConfig struct {
	URL            string `yaml:"url" env:"URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	// BreakerFailures is the number of consecutive transport failures that opens a processor's breaker.
	BreakerFailures       uint32 `yaml:"breaker_failures"`
	BreakerCooldownSecond int    `yaml:"breaker_cooldown_seconds"`
}

type PaymentConfig struct {
	ChargeOnlineProcessingFee bool    `yaml:"charge_online_processing_fee" env:"CHARGE_ONLINE_PROCESSING_FEE"`
	OnlineProcessingFeePct    float64 `yaml:"online_processing_fee_pct" env:"ONLINE_PROCESSING_FEE_PCT"`
	OfflineLinkTTLHours       int     `yaml:"offline_link_ttl_hours"`
}

type MailConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	FromAddress    string `yaml:"from_address" env:"FROM"`
	FromName       string `yaml:"from_name"`
	PortalURL      string `yaml:"portal_url"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"FORMAT"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	StatusRules string `yaml:"status_rules"`
}

// RulesConfig holds the day thresholds of the status transition rules.
type RulesConfig struct {
	InactiveAfterDays       int `yaml:"inactive_after_days"`
	ExpireAfterDays         int `yaml:"expire_after_days"`
	AbandonFailedChargeDays int `yaml:"abandon_failed_charge_days"`
}

// Load reads configuration from a YAML file, applies environment overrides and validates.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks required settings and fills defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownSeconds == 0 {
		c.Server.ShutdownSeconds = 15
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	if len(c.Security.CredentialKey) != 32 {
		return fmt.Errorf("security credential key must be exactly 32 bytes, got %d", len(c.Security.CredentialKey))
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.SessionExpiryMinutes == 0 {
		c.JWT.SessionExpiryMinutes = 60
	}
	if c.JWT.PaymentExpiryMinutes == 0 {
		c.JWT.PaymentExpiryMinutes = 30
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway url is required")
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}
	if c.Gateway.BreakerFailures == 0 {
		c.Gateway.BreakerFailures = 5
	}
	if c.Gateway.BreakerCooldownSecond == 0 {
		c.Gateway.BreakerCooldownSecond = 30
	}

	if c.Payment.OnlineProcessingFeePct < 0 || c.Payment.OnlineProcessingFeePct > 100 {
		return fmt.Errorf("online processing fee pct must be within [0,100]: %v", c.Payment.OnlineProcessingFeePct)
	}
	if c.Payment.OfflineLinkTTLHours == 0 {
		c.Payment.OfflineLinkTTLHours = 72
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "expedite.case-events"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Scheduler.StatusRules == "" {
		c.Scheduler.StatusRules = "0 0 */12 * * *" // every 12 hours, UTC
	}
	if c.Rules.InactiveAfterDays == 0 {
		c.Rules.InactiveAfterDays = 30
	}
	if c.Rules.ExpireAfterDays == 0 {
		c.Rules.ExpireAfterDays = 90
	}
	if c.Rules.AbandonFailedChargeDays == 0 {
		c.Rules.AbandonFailedChargeDays = 30
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
