// Package config handles environment settings and loading of migration
// config files.
package config

import (
	"errors"
	"os"
	"strconv"
)

// Config holds all runtime settings for the application,
// typically loaded from environment variables.
type Config struct {
	// StoreDriver selects the persistence backend: "sqlite" or "mssql".
	StoreDriver string
	StoreDSN    string

	SourceURI string
	SourceDB  string
	TargetURI string
	TargetDB  string

	LogFile          string
	FetchConcurrency int
	BatchSize        int
}

const (
	defaultFetchConcurrency = 4
	defaultBatchSize        = 50
)

// LoadConfig loads application settings from environment variables
// (which should be populated by the .env file in main.go).
func LoadConfig() (*Config, error) {
	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" && driver != "mssql" {
		return nil, errors.New("STORE_DRIVER must be sqlite or mssql")
	}

	dsn := os.Getenv("STORE_DSN")
	if dsn == "" {
		if driver == "mssql" {
			return nil, errors.New("STORE_DSN environment variable not set")
		}
		dsn = "recmig.db"
	}

	cfg := &Config{
		StoreDriver:      driver,
		StoreDSN:         dsn,
		SourceURI:        os.Getenv("SOURCE_CONNECTION_STRING"),
		SourceDB:         os.Getenv("SOURCE_DATABASE"),
		TargetURI:        os.Getenv("TARGET_CONNECTION_STRING"),
		TargetDB:         os.Getenv("TARGET_DATABASE"),
		LogFile:          os.Getenv("LOG_FILE"),
		FetchConcurrency: envInt("FETCH_CONCURRENCY", defaultFetchConcurrency),
		BatchSize:        envInt("BATCH_SIZE", defaultBatchSize),
	}
	return cfg, nil
}

// RequireEnvironments checks that both environment connection strings are
// set. Commands that never touch the remote environments skip this.
func (c *Config) RequireEnvironments() error {
	if c.SourceURI == "" {
		return errors.New("SOURCE_CONNECTION_STRING environment variable not set")
	}
	if c.TargetURI == "" {
		return errors.New("TARGET_CONNECTION_STRING environment variable not set")
	}
	return nil
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
