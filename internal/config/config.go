package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	JWTSigningKey string   `mapstructure:"JWT_SIGNING_KEY"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	ReminderHour             int           `mapstructure:"REMINDER_HOUR"`
	ReminderTimezone         string        `mapstructure:"REMINDER_TIMEZONE"`
	DailyReminderInterval    time.Duration `mapstructure:"DAILY_REMINDER_INTERVAL"`
	MedicineReminderInterval time.Duration `mapstructure:"MEDICINE_REMINDER_INTERVAL"`
	MedicineDueWindow        time.Duration `mapstructure:"MEDICINE_DUE_WINDOW"`
	DateLayout               string        `mapstructure:"DATE_LAYOUT"`

	TriggerWorkers int           `mapstructure:"TRIGGER_WORKERS"`
	TriggerTimeout time.Duration `mapstructure:"TRIGGER_TIMEOUT"`

	MailProvider string `mapstructure:"MAIL_PROVIDER"`
	MailFrom     string `mapstructure:"MAIL_FROM"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     string `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	AWSRegion    string `mapstructure:"AWS_REGION"`
	SMSEnabled   bool   `mapstructure:"SMS_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"MIGRATIONS_DIR", "JWT_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REMINDER_HOUR", "REMINDER_TIMEZONE", "DAILY_REMINDER_INTERVAL", "MEDICINE_REMINDER_INTERVAL",
	"MEDICINE_DUE_WINDOW", "DATE_LAYOUT", "TRIGGER_WORKERS", "TRIGGER_TIMEOUT",
	"MAIL_PROVIDER", "MAIL_FROM", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD",
	"AWS_REGION", "SMS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REMINDER_HOUR", 8)
	v.SetDefault("REMINDER_TIMEZONE", "Local")
	v.SetDefault("DAILY_REMINDER_INTERVAL", "1h")
	v.SetDefault("MEDICINE_REMINDER_INTERVAL", "5m")
	v.SetDefault("MEDICINE_DUE_WINDOW", "5m")
	v.SetDefault("DATE_LAYOUT", "1/2/2006")
	v.SetDefault("TRIGGER_WORKERS", 8)
	v.SetDefault("TRIGGER_TIMEOUT", "10s")
	v.SetDefault("MAIL_PROVIDER", "log")
	v.SetDefault("MAIL_FROM", "no-reply@medbook.local")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("AWS_REGION", "us-east-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves REMINDER_TIMEZONE. "Local" and "" map to the process zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ReminderTimezone == "" || c.ReminderTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return nil, fmt.Errorf("REMINDER_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development a
// JWT signing key is required, and reminder scheduling values must be sane.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		return fmt.Errorf("REMINDER_HOUR must be between 0 and 23, got %d", c.ReminderHour)
	}
	if c.DailyReminderInterval <= 0 || c.MedicineReminderInterval <= 0 {
		return fmt.Errorf("reminder intervals must be positive")
	}
	if c.MedicineDueWindow <= 0 {
		return fmt.Errorf("MEDICINE_DUE_WINDOW must be positive")
	}
	if c.TriggerWorkers <= 0 {
		return fmt.Errorf("TRIGGER_WORKERS must be positive, got %d", c.TriggerWorkers)
	}
	switch c.MailProvider {
	case "log", "ses":
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_PROVIDER is \"smtp\"")
		}
	default:
		return fmt.Errorf("MAIL_PROVIDER must be \"log\", \"smtp\", or \"ses\", got %q", c.MailProvider)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
