package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the proxy
type Config struct {
	// Server
	Port string
	Env  string

	// Transport path / principal table
	PathsFile string

	// Audit sink
	AuditDriver    string // postgres | sqlite | nats | none
	DatabaseURL    string
	SQLitePath     string
	NATSURL        string
	NATSSubject    string
	AuditQueueSize int

	// Redis (optional; in-process limiter used when empty)
	RedisURL string

	// Credential provider
	SecretSource  string // env | file
	SecretsFile   string
	CredentialTTL time.Duration

	// Circuit breaker
	FailureThreshold int
	OpenCooldown     time.Duration
	FailureWindow    time.Duration

	// Forwarding
	CallTimeout     time.Duration
	MaxPayloadBytes int64

	// Rate limiting
	DefaultRateLimit int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		PathsFile:        getEnv("PATHS_FILE", "paths.toml"),
		AuditDriver:      getEnv("AUDIT_DRIVER", "sqlite"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "audit.db"),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:      getEnv("NATS_SUBJECT", "audit.records"),
		AuditQueueSize:   getEnvInt("AUDIT_QUEUE_SIZE", 256),
		RedisURL:         getEnv("REDIS_URL", ""),
		SecretSource:     getEnv("SECRET_SOURCE", "env"),
		SecretsFile:      getEnv("SECRETS_FILE", ""),
		CredentialTTL:    getEnvDuration("CREDENTIAL_TTL_SECONDS", 300),
		FailureThreshold: getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		OpenCooldown:     getEnvDuration("CIRCUIT_COOLDOWN_SECONDS", 60),
		FailureWindow:    getEnvDuration("CIRCUIT_FAILURE_WINDOW_SECONDS", 60),
		CallTimeout:      getEnvDuration("CALL_TIMEOUT_SECONDS", 30),
		MaxPayloadBytes:  int64(getEnvInt("MAX_PAYLOAD_BYTES", 5<<20)),
		DefaultRateLimit: getEnvInt("DEFAULT_RATE_LIMIT", 100),
	}

	switch cfg.AuditDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when AUDIT_DRIVER=postgres")
		}
	case "sqlite", "nats", "none":
	default:
		return nil, fmt.Errorf("unknown AUDIT_DRIVER %q", cfg.AuditDriver)
	}

	if cfg.SecretSource == "file" && cfg.SecretsFile == "" {
		return nil, fmt.Errorf("SECRETS_FILE is required when SECRET_SOURCE=file")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
