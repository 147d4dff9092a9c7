// Package config provides configuration management for the delegation service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// SepoliaUSDC is the default delegated token
const SepoliaUSDC = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"

var hexAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Delegation DelegationConfig
	Circle     CircleConfig
	Chain      ChainConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	Admin      AdminConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects the account store backend
type StoreConfig struct {
	Backend  string // memory, file or postgres
	FilePath string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration.
// The activity ledger falls back to memory when Host is empty.
type ClickHouseConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	QueryTimeout   time.Duration
	// AsyncInsert lets the server buffer ledger rows instead of acknowledging each batch
	AsyncInsert bool
}

// RedisConfig holds Redis configuration.
// Connect locking stays in-process when Host is empty.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	LockTTL        time.Duration
	LockWait       time.Duration
}

// DelegationConfig holds the delegation rules
type DelegationConfig struct {
	AllowedToken  string
	TokenDecimals int
}

// CircleConfig holds custodial wallet provider configuration
type CircleConfig struct {
	APIKey          string
	BaseURL         string
	EntitySecret    string
	WalletSetID     string
	Blockchain      string
	FundingWalletID string
	Timeout         time.Duration
	FailureLimit    int
	ResetTimeout    time.Duration
}

// Enabled reports whether enough settings are present to call the provider
func (c CircleConfig) Enabled() bool {
	return c.APIKey != "" && c.EntitySecret != "" && c.WalletSetID != ""
}

// ChainConfig holds RPC configuration for on-chain balance reads
type ChainConfig struct {
	RPCURL  string
	Timeout time.Duration
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AdminConfig holds switches for administrative endpoints
type AdminConfig struct {
	AllowBulkClear bool
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "3000"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(getEnv("STORE_BACKEND", StoreFile)),
			FilePath: getEnv("STORE_FILE_PATH", "data/children.json"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "delegation"),
				User:           getEnv("POSTGRES_USER", "delegation"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:           getEnv("CLICKHOUSE_HOST", ""),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "delegation"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MaxConnections: getEnvAsInt("CLICKHOUSE_MAX_CONNECTIONS", 4),
				QueryTimeout:   getEnvAsDuration("CLICKHOUSE_QUERY_TIMEOUT", 10*time.Second),
				AsyncInsert:    getEnvAsBool("CLICKHOUSE_ASYNC_INSERT", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", ""),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				LockTTL:        getEnvAsDuration("REDIS_LOCK_TTL", 15*time.Second),
				LockWait:       getEnvAsDuration("REDIS_LOCK_WAIT", 5*time.Second),
			},
		},
		Delegation: DelegationConfig{
			AllowedToken:  getEnv("ALLOWED_TOKEN_ADDRESS", SepoliaUSDC),
			TokenDecimals: getEnvAsInt("TOKEN_DECIMALS", 6),
		},
		Circle: CircleConfig{
			APIKey:          getEnv("CIRCLE_API_KEY", ""),
			BaseURL:         getEnv("CIRCLE_BASE_URL", "https://api.circle.com"),
			EntitySecret:    getEnv("CIRCLE_ENTITY_SECRET", ""),
			WalletSetID:     getEnv("CIRCLE_WALLET_SET_ID", ""),
			Blockchain:      getEnv("CIRCLE_BLOCKCHAIN", "ETH-SEPOLIA"),
			FundingWalletID: getEnv("CIRCLE_FUNDING_WALLET_ID", ""),
			Timeout:         getEnvAsDuration("CIRCLE_TIMEOUT", 5*time.Second),
			FailureLimit:    getEnvAsInt("CIRCLE_FAILURE_LIMIT", 5),
			ResetTimeout:    getEnvAsDuration("CIRCLE_RESET_TIMEOUT", 30*time.Second),
		},
		Chain: ChainConfig{
			RPCURL:  getEnv("CHAIN_RPC_URL", ""),
			Timeout: getEnvAsDuration("CHAIN_RPC_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Admin: AdminConfig{
			AllowBulkClear: getEnvAsBool("ADMIN_ALLOW_BULK_CLEAR", false),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks settings that would otherwise fail at first use
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StorePostgres:
	case StoreFile:
		if strings.TrimSpace(c.Store.FilePath) == "" {
			return fmt.Errorf("STORE_FILE_PATH is required for the file store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want memory, file or postgres)", c.Store.Backend)
	}

	if !hexAddressPattern.MatchString(c.Delegation.AllowedToken) {
		return fmt.Errorf("ALLOWED_TOKEN_ADDRESS %q is not a valid address", c.Delegation.AllowedToken)
	}
	if c.Delegation.TokenDecimals < 0 || c.Delegation.TokenDecimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS out of range: %d", c.Delegation.TokenDecimals)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
