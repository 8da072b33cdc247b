// Package config loads the gateway's configuration from environment
// variables (and an optional .env file), per spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the gateway reads at startup.
type Config struct {
	// Server
	Port        int
	Environment string

	// Chain / bundler
	ChainID       int64
	BundlerURL    string
	EntryPointV06 string
	EntryPointV07 string

	// Redis (rate limiting backend, when configured)
	RedisURL string

	// Rate limiting
	RateLimitRequestsPerSecond float64
	RateLimitBurst             int
	RateLimitUseRedis          bool
	RateLimitWindow            time.Duration

	// Policy
	PolicyFilePath string

	// Signer
	SignerBackend   string // "local" or "tee"
	SignerKeyHex    string
	TEEEndpoint     string
	TEEAccountID    string
	TEELocalKeyHex  string

	// Auth
	APIKeys      map[string]string // key -> policy tag
	AllowedCIDRs []string
}

// Load reads configuration from the environment, loading a .env file
// first if one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnvInt("PORT", 3000),
		Environment: getEnv("ENVIRONMENT", "development"),

		ChainID:       int64(getEnvInt("CHAIN_ID", 1)),
		BundlerURL:    getEnv("BUNDLER_URL", "http://localhost:4337"),
		EntryPointV06: getEnv("ENTRY_POINT_V06", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
		EntryPointV07: getEnv("ENTRY_POINT_V07", "0x0000000071727De22E5E9d8BAf0edAc6f37da032"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		RateLimitRequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:             getEnvInt("RATE_LIMIT_BURST", 30),
		RateLimitUseRedis:          getEnvBool("RATE_LIMIT_USE_REDIS", false),
		RateLimitWindow:            time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,

		PolicyFilePath: getEnv("POLICY_FILE", "policy.toml"),

		SignerBackend:  getEnv("SIGNER_BACKEND", "local"),
		SignerKeyHex:   getEnv("SIGNER_PRIVATE_KEY", ""),
		TEEEndpoint:    getEnv("TEE_ENDPOINT", ""),
		TEEAccountID:   getEnv("TEE_ACCOUNT_ID", ""),
		TEELocalKeyHex: getEnv("TEE_HEADER_KEY", ""),

		APIKeys:      parseAPIKeys(getEnv("API_KEYS", "")),
		AllowedCIDRs: splitNonEmpty(getEnv("ALLOWED_CIDRS", "")),
	}
}

// Validate enforces the startup invariant that the gateway must be able to
// sign: either a local key or a complete TEE configuration must be set.
func (c *Config) Validate() error {
	switch c.SignerBackend {
	case "local":
		if c.SignerKeyHex == "" {
			return fmt.Errorf("SIGNER_PRIVATE_KEY is required when SIGNER_BACKEND=local")
		}
	case "tee":
		if c.TEEEndpoint == "" || c.TEEAccountID == "" || c.TEELocalKeyHex == "" {
			return fmt.Errorf("TEE_ENDPOINT, TEE_ACCOUNT_ID, and TEE_HEADER_KEY are all required when SIGNER_BACKEND=tee")
		}
	default:
		return fmt.Errorf("unknown SIGNER_BACKEND %q: must be \"local\" or \"tee\"", c.SignerBackend)
	}
	if c.BundlerURL == "" {
		return fmt.Errorf("BUNDLER_URL is required")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseAPIKeys reads "key1:tag1,key2:tag2" into a map. A key with no ":tag"
// suffix maps to the empty (default) policy tag.
func parseAPIKeys(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitNonEmpty(s) {
		if key, tag, ok := strings.Cut(pair, ":"); ok {
			out[key] = tag
		} else {
			out[pair] = ""
		}
	}
	return out
}
