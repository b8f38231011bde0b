package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken     string
	RequestInterval time.Duration

	// Storage
	StorageType string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	PostgresURL string

	// Worker
	WorkerID  string
	BrokerURL string
	KeySeed   int64

	// Provenance stamped on every row
	ToolSource  string
	ToolVersion string
	DataSource  string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
	Verbose     bool

	// errs collects values that failed to parse, reported by Validate
	errs []*ConfigError
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	c := &Config{
		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		StorageType: getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:  getEnv("SQLITE_PATH", "./issues.db"),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		WorkerID:    getEnv("WORKER_ID", "github_worker."+uuid.NewString()),
		BrokerURL:   getEnv("BROKER_URL", "http://localhost:5000"),
		ToolSource:  getEnv("TOOL_SOURCE", "GitHub API Worker"),
		ToolVersion: getEnv("TOOL_VERSION", "0.0.1"),
		DataSource:  getEnv("DATA_SOURCE", "GitHub API"),
		APIPort:     getEnv("API_PORT", "51236"),
		APIHost:     getEnv("API_HOST", "localhost"),
		APIEndpoint: getEnv("API_ENDPOINT", "http://localhost:51236"),
	}
	c.KeySeed = c.getInt("KEY_SEED", 25150)
	c.RequestInterval = c.getDuration("REQUEST_INTERVAL", 100*time.Millisecond)
	c.Verbose = c.getBool("VERBOSE", false)

	return c, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		c.errs = append(c.errs, &ConfigError{Field: key, Message: "must be an integer"})
		return defaultValue
	}
	return n
}

func (c *Config) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		c.errs = append(c.errs, &ConfigError{Field: key, Message: "must be a non-negative duration such as 100ms"})
		return defaultValue
	}
	return d
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		c.errs = append(c.errs, &ConfigError{Field: key, Message: "must be true or false"})
		return defaultValue
	}
	return b
}

// Validate validates the configuration. Every value that failed to parse is reported.
func (c *Config) Validate() error {
	if len(c.errs) > 0 {
		var result *multierror.Error
		for _, e := range c.errs {
			result = multierror.Append(result, e)
		}
		return result.ErrorOrNil()
	}
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only the storage settings, for commands that never call GitHub
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case "sqlite", "memory":
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'memory'"}
	}
	if c.KeySeed < 0 {
		return &ConfigError{Field: "KEY_SEED", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
