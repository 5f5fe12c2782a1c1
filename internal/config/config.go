// Package config loads the sanctuary API settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads .env and then .env.local when present. godotenv never
// overrides variables that are already set, so the process environment wins.
func init() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", name, err)
		}
	}
}

// Config captures environment-driven settings for the API.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // PostgreSQL connection string; empty selects the in-memory store
	NATSURL     string // NATS server URL; empty disables change events

	// Blob storage
	StorageDriver    string // local, s3 or memory
	StoragePath      string // Root directory of the local driver
	PublicStorageURL string // URL prefix under which blob keys are served
	S3Endpoint       string // S3-compatible storage endpoint
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string

	// Auth
	JWTSecret      string        // HMAC key for bearer tokens
	JWTIssuer      string        // iss claim of issued tokens
	JWTAudience    string        // aud claim of issued tokens
	TokenTTL       time.Duration // Lifetime of issued tokens
	RedisAddr      string        // Revocation list; empty keeps it in memory
	RedisPassword  string
	AdminEmails    []string // Accounts granted the admin flag at registration
	FirstUserAdmin bool     // Grant the admin flag to the very first account

	DefaultAuthor string // Post author when none is given

	MaxRequestSize int64 // Upper bound of a request body in bytes

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Tracing bool // Export spans to stdout

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// EnvDatabaseDSN selects PostgreSQL when set.
const EnvDatabaseDSN = "SANCTUARY_DB_DSN"

const (
	defaultPort             = "8080"
	defaultEnv              = "dev"
	defaultStorageDriver    = "local"
	defaultStoragePath      = "storage/app/public"
	defaultPublicStorageURL = "/storage"
	defaultS3Region         = "us-east-1"
	defaultJWTIssuer        = "sanctuary-api"
	defaultJWTAudience      = "sanctuary-web"
	defaultTokenTTL         = 24 * time.Hour
	defaultAuthor           = "Admin"
	defaultMaxRequestSize   = 8 << 20
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("SANCTUARY_ENV", defaultEnv),
		Port:             getEnv("SANCTUARY_PORT", defaultPort),
		DatabaseDSN:      getEnv(EnvDatabaseDSN, ""),
		NATSURL:          getEnv("SANCTUARY_NATS_URL", ""),
		StorageDriver:    strings.ToLower(getEnv("SANCTUARY_STORAGE_DRIVER", defaultStorageDriver)),
		StoragePath:      getEnv("SANCTUARY_STORAGE_PATH", defaultStoragePath),
		PublicStorageURL: strings.TrimRight(getEnv("SANCTUARY_PUBLIC_STORAGE_URL", defaultPublicStorageURL), "/"),
		S3Endpoint:       getEnv("SANCTUARY_S3_ENDPOINT", ""),
		S3Region:         getEnv("SANCTUARY_S3_REGION", defaultS3Region),
		S3Bucket:         getEnv("SANCTUARY_S3_BUCKET", ""),
		S3AccessKey:      getEnv("SANCTUARY_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("SANCTUARY_S3_SECRET_KEY", ""),
		JWTSecret:        getEnv("SANCTUARY_JWT_SECRET", ""),
		JWTIssuer:        getEnv("SANCTUARY_JWT_ISSUER", defaultJWTIssuer),
		JWTAudience:      getEnv("SANCTUARY_JWT_AUDIENCE", defaultJWTAudience),
		RedisAddr:        getEnv("SANCTUARY_REDIS_ADDR", ""),
		RedisPassword:    getEnv("SANCTUARY_REDIS_PASSWORD", ""),
		AdminEmails:      splitList(getEnv("SANCTUARY_ADMIN_EMAILS", "")),
		FirstUserAdmin:   parseBool(getEnv("SANCTUARY_FIRST_USER_ADMIN", "false")),
		DefaultAuthor:    getEnv("SANCTUARY_DEFAULT_AUTHOR", defaultAuthor),
		Tracing:          parseBool(getEnv("SANCTUARY_TRACING", "false")),
	}
	cfg.CORSAllowedOrigins = splitList(getEnv("SANCTUARY_CORS_ALLOWED_ORIGINS", ""))

	var err error
	if cfg.TokenTTL, err = durationEnv("SANCTUARY_TOKEN_TTL", defaultTokenTTL); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = durationEnv("SANCTUARY_READ_TIMEOUT", defaultReadTimeout); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = durationEnv("SANCTUARY_WRITE_TIMEOUT", defaultWriteTimeout); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SANCTUARY_SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return cfg, err
	}

	cfg.MaxRequestSize = defaultMaxRequestSize
	if v, ok := os.LookupEnv("SANCTUARY_MAX_REQUEST_SIZE"); ok && v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size <= 0 {
			return cfg, fmt.Errorf("SANCTUARY_MAX_REQUEST_SIZE must be a positive integer, got %q", v)
		}
		cfg.MaxRequestSize = size
	}

	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("SANCTUARY_JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case "local", "memory":
	case "s3":
		if cfg.S3Bucket == "" {
			return cfg, fmt.Errorf("SANCTUARY_S3_BUCKET is required when SANCTUARY_STORAGE_DRIVER=s3")
		}
	default:
		return cfg, fmt.Errorf("unknown SANCTUARY_STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
