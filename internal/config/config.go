package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Timezone string `yaml:"timezone"`
	} `yaml:"app"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console or json
	} `yaml:"log"`

	Database struct {
		Driver             string `yaml:"driver"` // sqlite3 or pgx
		Path               string `yaml:"path"`
		DSN                string `yaml:"dsn"`
		MaxOpenConns       int    `yaml:"max_open_conns"`
		BusyTimeoutSeconds int    `yaml:"busy_timeout_seconds"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Billing struct {
		IntervalSeconds    int    `yaml:"interval_seconds"`
		Workers            int    `yaml:"workers"`
		WarningThreshold   string `yaml:"warning_threshold"`
		TickTimeoutSeconds int    `yaml:"tick_timeout_seconds"`
		LockTTLSeconds     int    `yaml:"lock_ttl_seconds"`
	} `yaml:"billing"`

	Recognition struct {
		BaseURL         string `yaml:"base_url"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"recognition"`

	Notifications struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
		MaxRetries    int     `yaml:"max_retries"`

		SMTP struct {
			Host           string `yaml:"host"`
			Port           int    `yaml:"port"`
			Username       string `yaml:"username"`
			Password       string `yaml:"password"`
			From           string `yaml:"from"`
			TimeoutSeconds int    `yaml:"timeout_seconds"`
		} `yaml:"smtp"`

		Telegram struct {
			BotToken string  `yaml:"bot_token"`
			ChatIDs  []int64 `yaml:"chat_ids"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`

	Broker struct {
		Enabled  bool   `yaml:"enabled"`
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"broker"`

	API struct {
		Enabled   bool   `yaml:"enabled"`
		Port      int    `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Reports struct {
		Sheets struct {
			Enabled         bool   `yaml:"enabled"`
			CredentialsFile string `yaml:"credentials_file"`
			SpreadsheetID   string `yaml:"spreadsheet_id"`
			SheetName       string `yaml:"sheet_name"`
		} `yaml:"sheets"`
	} `yaml:"reports"`

	CatalogPath string `yaml:"catalog_path"`

	Users []UserConfig `yaml:"users"`
}

// UserConfig seeds an account at startup.
type UserConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite3" {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "parkly"
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "UTC"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/parkly.db"
	}
	if c.Billing.WarningThreshold == "" {
		c.Billing.WarningThreshold = "100"
	}
	if c.CatalogPath == "" {
		c.CatalogPath = "configs/catalog.yaml"
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	if c.Database.Driver == "pgx" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the pgx driver")
	}
	if _, err := c.WarningThreshold(); err != nil {
		return err
	}
	if c.API.Enabled && c.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is required when the api is enabled")
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) BillingInterval() time.Duration {
	if c.Billing.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Billing.IntervalSeconds) * time.Second
}

func (c *Config) BillingWorkers() int {
	if c.Billing.Workers <= 0 {
		return 8
	}
	return c.Billing.Workers
}

func (c *Config) TickTimeout() time.Duration {
	if c.Billing.TickTimeoutSeconds <= 0 {
		return 50 * time.Second
	}
	return time.Duration(c.Billing.TickTimeoutSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Billing.LockTTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Billing.LockTTLSeconds) * time.Second
}

// WarningThreshold is the balance above which limit warnings are sent.
func (c *Config) WarningThreshold() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Billing.WarningThreshold)
	if err != nil {
		return decimal.Zero, fmt.Errorf("billing.warning_threshold: %w", err)
	}
	return d, nil
}

func (c *Config) BusyTimeout() time.Duration {
	if c.Database.BusyTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Database.BusyTimeoutSeconds) * time.Second
}

func (c *Config) RecognitionTimeout() time.Duration {
	if c.Recognition.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Recognition.TimeoutSeconds) * time.Second
}

func (c *Config) RecognitionCacheTTL() time.Duration {
	return time.Duration(c.Recognition.CacheTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
