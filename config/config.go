// Package config reads the daemon configuration from the environment.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the daemon.
type Config struct {
	AdminPort string
	HTTPPort  string
	Env       string

	// DataDir holds the SQLite databases when no external backend is
	// configured.
	DataDir     string
	DatabaseURL string
	RedisURL    string

	// WaitSubchans makes channels wait for forked branches by default.
	WaitSubchans bool
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		AdminPort:    getEnv("ADMIN_PORT", "8080"),
		HTTPPort:     getEnv("HTTP_PORT", "8081"),
		Env:          getEnv("ENV", "development"),
		DataDir:      getEnv("DATA_DIR", "data"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		WaitSubchans: getEnv("WAIT_SUBCHANS", "false") == "true",
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StorePath is the SQLite message store location under DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "pypeman.db")
}

// PersistPath is the SQLite node data location under DataDir.
func (c *Config) PersistPath() string {
	return filepath.Join(c.DataDir, "nodedata.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
