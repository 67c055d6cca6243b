// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL            string
	ChainID           int64
	OperatorKey       string // Hex-encoded private key of the sentinel delegate wallet
	DelegationManager string // DelegationManager contract address

	// Revocation execution
	SubmissionStrategy      string // "selffunded", "upgraded", or "sponsored"
	RelayerURL              string // Required for the sponsored strategy
	RelayerAPIKey           string
	DelegatorImplementation string // Required for the upgraded (EIP-7702) strategy
	ConfirmationTimeout     int64  // Seconds to wait for on-chain confirmation

	// Threat classification
	AIServiceURL  string // External bytecode-analysis service (empty = always degraded)
	AIAPIKey      string
	AITimeoutSec  int64
	ExtraDenylist []string // Additional known-malicious spender addresses

	// Pipeline
	QueueSize int
	Workers   int

	// Security / observability
	RateLimitRPS int
	OTLPEndpoint string
}

// Monad testnet defaults
const (
	DefaultRPCURL            = "https://testnet-rpc.monad.xyz"
	DefaultChainID           = 10143 // Monad testnet
	DefaultDelegationManager = "0x739309deED0Ae184E66a427ACa432aE1D91d022e"
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultStrategy          = "selffunded"
	DefaultQueueSize         = 256
	DefaultWorkers           = 4
	DefaultConfirmTimeout    = 90
	DefaultAITimeout         = 45
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:             os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:                  getEnv("RPC_URL", DefaultRPCURL),
		ChainID:                 getEnvInt64("CHAIN_ID", DefaultChainID),
		OperatorKey:             os.Getenv("OPERATOR_KEY"), // Required, no default
		DelegationManager:       getEnv("DELEGATION_MANAGER", DefaultDelegationManager),
		SubmissionStrategy:      getEnv("SUBMISSION_STRATEGY", DefaultStrategy),
		RelayerURL:              os.Getenv("RELAYER_URL"),
		RelayerAPIKey:           os.Getenv("RELAYER_API_KEY"),
		DelegatorImplementation: os.Getenv("DELEGATOR_IMPLEMENTATION"),
		ConfirmationTimeout:     getEnvInt64("CONFIRMATION_TIMEOUT", DefaultConfirmTimeout),
		AIServiceURL:            os.Getenv("AI_SERVICE_URL"),
		AIAPIKey:                os.Getenv("AI_API_KEY"),
		AITimeoutSec:            getEnvInt64("AI_TIMEOUT", DefaultAITimeout),
		ExtraDenylist:           getEnvList("DENYLIST"),
		QueueSize:               int(getEnvInt64("QUEUE_SIZE", DefaultQueueSize)),
		Workers:                 int(getEnvInt64("WORKERS", DefaultWorkers)),
		RateLimitRPS:            int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OperatorKey == "" {
		return fmt.Errorf("OPERATOR_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := strings.TrimPrefix(c.OperatorKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("OPERATOR_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	switch c.SubmissionStrategy {
	case "selffunded":
	case "upgraded":
		if c.DelegatorImplementation == "" {
			return fmt.Errorf("DELEGATOR_IMPLEMENTATION is required when SUBMISSION_STRATEGY=upgraded")
		}
	case "sponsored":
		if c.RelayerURL == "" {
			return fmt.Errorf("RELAYER_URL is required when SUBMISSION_STRATEGY=sponsored")
		}
	default:
		return fmt.Errorf("SUBMISSION_STRATEGY must be one of selffunded, upgraded, sponsored (got %q)", c.SubmissionStrategy)
	}

	if c.QueueSize <= 0 || c.Workers <= 0 {
		return fmt.Errorf("QUEUE_SIZE and WORKERS must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
