/*
config.go - Process configuration

PURPOSE:
  Loads settings for cmd/server and cmd/migrate from, in increasing
  priority: built-in defaults, an optional YAML file (CONFIG_PATH), a .env
  file, and the process environment. Command-line flags are applied by the
  binaries on top of the returned Config.

KEYS:
  HTTP_PORT                 Listen port
  DB_DRIVER                 sqlite | postgres | memory
  SQLITE_PATH               SQLite file, ":memory:" allowed
  DATABASE_URL              postgres://... DSN
  DB_MAX_CONNS, DB_MIN_CONNS, DB_AUTO_MIGRATE
  LOCAL_DEV, LOG_LEVEL      Logging
  CORS_ALLOWED_ORIGINS      Comma separated
  AWS_REGION, AWS_ENDPOINT, PAYROLL_EVENTS_QUEUE_URL
  TRACING_EXPORTER          none | stdout | otlp
  OTLP_ENDPOINT, SERVICE_NAME
  PAYSLIP_COMPANY_NAME
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPPort           int    `mapstructure:"HTTP_PORT"`
	LocalDev           bool   `mapstructure:"LOCAL_DEV"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	ServiceName        string `mapstructure:"SERVICE_NAME"`
	TracingExporter    string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string `mapstructure:"OTLP_ENDPOINT"`
	AWSRegion          string `mapstructure:"AWS_REGION"`
	AWSEndpoint        string `mapstructure:"AWS_ENDPOINT"`
	EventsQueueURL     string `mapstructure:"PAYROLL_EVENTS_QUEUE_URL"`
	PayslipCompany     string `mapstructure:"PAYSLIP_COMPANY_NAME"`

	Database DatabaseConfig `mapstructure:",squash"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"DB_DRIVER"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	URL         string `mapstructure:"DATABASE_URL"`
	MaxConns    int    `mapstructure:"DB_MAX_CONNS"`
	MinConns    int    `mapstructure:"DB_MIN_CONNS"`
	AutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`
}

var defaults = map[string]any{
	"HTTP_PORT":                8080,
	"LOCAL_DEV":                false,
	"LOG_LEVEL":                "info",
	"CORS_ALLOWED_ORIGINS":     "*",
	"SERVICE_NAME":             "payroll-engine",
	"TRACING_EXPORTER":         "none",
	"OTLP_ENDPOINT":            "localhost:4317",
	"AWS_REGION":               "us-east-1",
	"AWS_ENDPOINT":             "",
	"PAYROLL_EVENTS_QUEUE_URL": "",
	"PAYSLIP_COMPANY_NAME":     "Warp Payroll",
	"DB_DRIVER":                DriverSQLite,
	"SQLITE_PATH":              "./data/payroll.db",
	"DATABASE_URL":             "",
	"DB_MAX_CONNS":             10,
	"DB_MIN_CONNS":             1,
	"DB_AUTO_MIGRATE":          true,
}

// Load reads configuration. A missing .env or CONFIG_PATH file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid HTTP_PORT %d", c.HTTPPort)
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
