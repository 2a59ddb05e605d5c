package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	SpeechConsole = "console"
	SpeechBridge  = "bridge"
)

// Config holds application configuration
type Config struct {
	Debug    bool
	LogLevel string
	LogDir   string

	// Persistence
	StoreBackend  string // sqlite|redis
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Conversation
	OpenAIBaseURL string
	OpenAIAPIKey  string // Seeds the store when no key is saved yet
	Plan          string // Seeds the store when set

	// Web search
	SearchProvider string // serper|tavily|mock
	SearchAPIKey   string
	SearchCacheTTL time.Duration

	// Speech
	SpeechMode             string // console|bridge
	BridgeAddr             string
	ListenTimeout          time.Duration
	Lang                   string
	MaxRecognitionFailures int // 0 retries forever
	PacingDelay            time.Duration
	RetryDelay             time.Duration
}

// Load reads configuration from the environment. Callers load .env first.
func Load() *Config {
	return &Config{
		Debug:    getEnvAsBool("MORNINGCALL_DEBUG", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDir:   getEnv("LOG_DIR", "logs"),

		StoreBackend:  strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", StoreSQLite))),
		DBPath:        getEnv("DB_PATH", "morningcall.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", ""),

		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		Plan:          getEnv("MORNINGCALL_PLAN", ""),

		SearchProvider: strings.ToLower(strings.TrimSpace(getEnv("SEARCH_PROVIDER", "serper"))),
		SearchAPIKey:   getEnv("SEARCH_API_KEY", ""),
		SearchCacheTTL: getEnvAsDuration("SEARCH_CACHE_TTL", 5*time.Minute),

		SpeechMode:             strings.ToLower(strings.TrimSpace(getEnv("SPEECH_MODE", SpeechConsole))),
		BridgeAddr:             getEnv("BRIDGE_ADDR", "127.0.0.1:8765"),
		ListenTimeout:          getEnvAsDuration("LISTEN_TIMEOUT", 15*time.Second),
		Lang:                   getEnv("SPEECH_LANG", "en-US"),
		MaxRecognitionFailures: getEnvAsInt("MAX_RECOGNITION_FAILURES", 10),
		PacingDelay:            getEnvAsDuration("PACING_DELAY", time.Second),
		RetryDelay:             getEnvAsDuration("RETRY_DELAY", 3*time.Second),
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db path is required for the %s store", StoreSQLite)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the %s store", StoreRedis)
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.StoreBackend)
	}

	switch c.SpeechMode {
	case SpeechConsole:
	case SpeechBridge:
		if c.BridgeAddr == "" {
			return fmt.Errorf("bridge address is required for %s speech", SpeechBridge)
		}
	default:
		return fmt.Errorf("unknown speech mode: %s", c.SpeechMode)
	}

	if c.MaxRecognitionFailures < 0 {
		return fmt.Errorf("max recognition failures must not be negative")
	}
	if c.PacingDelay < 0 || c.RetryDelay < 0 || c.ListenTimeout < 0 {
		return fmt.Errorf("delays and timeouts must not be negative")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
