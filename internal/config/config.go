package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load env vars from .env file directly
func init() {
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist (e.g. in production),
		// but we should log it just in case.
		// However, mostly we want to rely on environment variables being set.
		// If we are in local dev, this helps.
		log.Println("No .env file found or error loading it, using system environment variables")
	}
}

// Settings holds the operational inputs the service needs at startup:
// database URL, storage root, upstream request timeout and user-agent
// string, plus the admin-API and replication settings.
type Settings struct {
	DatabaseURL string
	StorageRoot string
	Port        string
	Env         string

	UpstreamRequestTimeoutSeconds int
	UpstreamUserAgent             string
	UpstreamRateLimitQPS          float64

	AdminAPIKey string

	ReplicaBucket          string
	ReplicaAccountID       string
	ReplicaAccessKeyID     string
	ReplicaSecretAccessKey string
	ReplicaPublicURL       string
}

// Load reads Settings from the environment, applying the same defaults the
// original service shipped (a 900s upstream timeout, a
// "Simplestream-Manager/1.0" user-agent, and `data/simplestreams` as the
// storage root).
func Load() *Settings {
	return &Settings{
		DatabaseURL:                   os.Getenv("DATABASE_URL"),
		StorageRoot:                   getEnv("STORAGE_ROOT", "data/simplestreams"),
		Port:                          getEnv("PORT", "3001"),
		Env:                           getEnv("NODE_ENV", "development"),
		UpstreamRequestTimeoutSeconds: getEnvInt("UPSTREAM_REQUEST_TIMEOUT", 900),
		UpstreamUserAgent:             getEnv("USER_AGENT", "Simplestream-Manager/1.0"),
		UpstreamRateLimitQPS:          getEnvFloat("UPSTREAM_RATE_LIMIT_QPS", 5),
		AdminAPIKey:                   os.Getenv("ADMIN_API_KEY"),
		ReplicaBucket:                 os.Getenv("REPLICA_BUCKET"),
		ReplicaAccountID:              os.Getenv("REPLICA_ACCOUNT_ID"),
		ReplicaAccessKeyID:            os.Getenv("REPLICA_ACCESS_KEY_ID"),
		ReplicaSecretAccessKey:        os.Getenv("REPLICA_SECRET_ACCESS_KEY"),
		ReplicaPublicURL:              os.Getenv("REPLICA_PUBLIC_URL"),
	}
}

// ReplicationEnabled reports whether optional off-site tree replication is
// configured.
func (s *Settings) ReplicationEnabled() bool {
	return s.ReplicaBucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetAllowedOrigins returns a slice of allowed origins from the environment variable.
// It defaults to localhost:3000 if not set.
func GetAllowedOrigins() []string {
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	if originsStr == "" {
		return []string{"http://localhost:3000"}
	}

	// Split by comma and trim spaces
	parts := strings.Split(originsStr, ",")
	var origins []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
