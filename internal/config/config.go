package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	LogLevel           string   `mapstructure:"LOG_LEVEL"`
	DBDriver           string   `mapstructure:"DB_DRIVER"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	SQLitePath         string   `mapstructure:"SQLITE_PATH"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir      string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	DefaultPhoneRegion string   `mapstructure:"DEFAULT_PHONE_REGION"`
	SMTPHost           string   `mapstructure:"SMTP_HOST"`
	SMTPPort           int      `mapstructure:"SMTP_PORT"`
	SMTPUsername       string   `mapstructure:"SMTP_USERNAME"`
	SMTPPassword       string   `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom           string   `mapstructure:"SMTP_FROM"`
	AlertTelegramToken string   `mapstructure:"ALERT_TELEGRAM_TOKEN"`
	AlertTelegramChat  int64    `mapstructure:"ALERT_TELEGRAM_CHAT_ID"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DB_DRIVER", "DATABASE_URL", "SQLITE_PATH", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"CORS_ORIGINS", "DEFAULT_PHONE_REGION",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"ALERT_TELEGRAM_TOKEN", "ALERT_TELEGRAM_CHAT_ID",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("SQLITE_PATH", "./data/cobalt.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_PHONE_REGION", "US")
	v.SetDefault("SMTP_PORT", 587)

	// Unmarshal only sees keys viper already knows about.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.DBDriver = strings.ToLower(cfg.DBDriver)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects configurations the server cannot run with: an unknown
// database driver, postgres without DATABASE_URL, and half-configured
// SMTP or Telegram alerting.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is %q", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER is %q", DriverSQLite)
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}

	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	if c.AlertTelegramToken != "" && c.AlertTelegramChat == 0 {
		return fmt.Errorf("ALERT_TELEGRAM_CHAT_ID is required when ALERT_TELEGRAM_TOKEN is set")
	}
	return nil
}

// SMTPEnabled reports whether outbound email should go through SMTP rather
// than the log sender.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}
