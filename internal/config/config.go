package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port              int           `envconfig:"PORT" default:"8080"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	DBMaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	StoreDriver       string        `envconfig:"STORE_DRIVER" default:"postgres"`
	Version           string        `envconfig:"VERSION" default:"dev"`
	BcryptCost        int           `envconfig:"BCRYPT_COST" default:"10"`
	OperationTimeout  time.Duration `envconfig:"OPERATION_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"30m"`
	ReaperInterval    time.Duration `envconfig:"REAPER_INTERVAL" default:"1m"`
	CodeAttempts      int           `envconfig:"CODE_ATTEMPTS" default:"8"`
	AllowedOrigins    []string      `envconfig:"ALLOWED_ORIGINS"`
}

// Load reads configuration from environment variables into a Config struct.
// Variables from a .env file in the working directory are loaded first and
// never override the real environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.StoreDriver, DriverPostgres, DriverMemory)
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.CodeAttempts < 1 {
		return errors.New("CODE_ATTEMPTS must be at least 1")
	}
	if c.DBMaxConns < 1 {
		return errors.New("DB_MAX_CONNS must be at least 1")
	}
	if c.DBMaxConnIdleTime <= 0 {
		return errors.New("DB_MAX_CONN_IDLE_TIME must be positive")
	}
	if c.OperationTimeout <= 0 || c.IdleTimeout <= 0 || c.ReaperInterval <= 0 {
		return errors.New("OPERATION_TIMEOUT, IDLE_TIMEOUT and REAPER_INTERVAL must be positive")
	}
	return nil
}
