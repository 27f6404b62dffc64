package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config is read from SALE_* environment variables, optionally seeded
// from a .env file in the working directory.
type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`

	// DBDriver is sqlite or postgres.
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN    string `envconfig:"DB_DSN" default:"sales.db"`

	DefaultVatRate decimal.Decimal `envconfig:"DEFAULT_VAT_RATE" default:"22"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	CORSOrigins     []string      `envconfig:"CORS_ORIGINS"`
	EnableScenarios bool          `envconfig:"ENABLE_SCENARIOS" default:"false"`
	OverdueInterval time.Duration `envconfig:"OVERDUE_INTERVAL" default:"1h"`
}

func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("sale", &cfg); err != nil {
		return nil, err
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unknown SALE_DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DefaultVatRate.IsNegative() {
		return nil, fmt.Errorf("SALE_DEFAULT_VAT_RATE must not be negative")
	}
	return &cfg, nil
}

func newLogger(cfg *Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return log, nil
}
