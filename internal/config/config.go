// Package config provides configuration loading and management for the catalog service.
// It handles environment variable parsing, an optional TOML file, and provides default
// values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Local overrides, gitignored
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// EnvPrefix is prepended to every setting name to form its environment variable.
const EnvPrefix = "CATALOG_"

// Config captures settings for the catalog service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // PostgreSQL connection string; selects the Postgres store
	SQLitePath  string // SQLite database file; used when DatabaseDSN is empty
	NATSURL     string // NATS server URL for the activity stream

	S3Endpoint  string // S3-compatible storage endpoint
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket name
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key
	S3PublicURL string // Public base URL objects are served from

	UploadDir     string // Local directory for uploaded media and the /uploads/ route
	PublicBaseURL string // When set, local upload URLs are absolute under this origin

	JWTSecret   string        // HMAC key for bearer tokens (required)
	JWTIssuer   string        // iss claim issued and expected
	JWTAudience string        // aud claim issued and expected
	TokenTTL    time.Duration // Bearer token lifetime

	MaxUploadSize int64 // Per-file upload limit in bytes

	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)

	ReadTimeout   time.Duration // Body read deadline for JSON and form requests
	UploadTimeout time.Duration // Body read deadline for multipart uploads
	WriteTimeout  time.Duration // http.Server WriteTimeout; long enough for large uploads

	RateLimit  int           // Requests per client IP on /api/ within RateWindow; 0 disables
	RateWindow time.Duration // Rate limit window
}

// Default configuration values used when neither the environment nor the file sets them
const (
	defaultEnv           = "dev"
	defaultPort          = "8080"
	defaultS3Region      = "us-east-1"
	defaultUploadDir     = "uploads"
	defaultJWTIssuer     = "catalog"
	defaultJWTAudience   = "catalog-web"
	defaultTokenTTL      = 7 * 24 * time.Hour
	defaultMaxUploadSize = 500 << 20 // 500 MiB
	defaultReadTimeout   = 30 * time.Second
	defaultUploadTimeout = 30 * time.Minute
	defaultWriteTimeout  = 30 * time.Minute
	defaultRateLimit     = 100
	defaultRateWindow    = 15 * time.Minute
)

// source resolves a setting from the environment first, then the config file.
type source struct {
	file map[string]interface{}
}

func (s source) lookup(key string) (string, bool) {
	// An empty variable counts as unset so it cannot mask the file value.
	if v := os.Getenv(EnvPrefix + strings.ToUpper(key)); v != "" {
		return v, true
	}
	v, ok := s.file[key]
	if !ok {
		return "", false
	}
	if list, ok := v.([]interface{}); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ","), true
	}
	return fmt.Sprint(v), true
}

func (s source) str(key, fallback string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

// Load reads the optional TOML file named by CATALOG_CONFIG_FILE, then the
// environment, and produces a Config suitable for wiring the service.
// Environment variables override file values; defaults fill the rest.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	src := source{}
	if path, exists := os.LookupEnv(EnvPrefix + "CONFIG_FILE"); exists && path != "" {
		file, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		Env:           src.str("env", defaultEnv),
		Port:          src.str("port", defaultPort),
		DatabaseDSN:   src.str("db_dsn", ""),
		SQLitePath:    src.str("sqlite_path", ""),
		NATSURL:       src.str("nats_url", ""),
		S3Endpoint:    src.str("s3_endpoint", ""),
		S3Region:      src.str("s3_region", defaultS3Region),
		S3Bucket:      src.str("s3_bucket", ""),
		S3AccessKey:   src.str("s3_access_key", ""),
		S3SecretKey:   src.str("s3_secret_key", ""),
		S3PublicURL:   strings.TrimRight(src.str("s3_public_url", ""), "/"),
		UploadDir:     src.str("upload_dir", defaultUploadDir),
		PublicBaseURL: strings.TrimRight(src.str("public_base_url", ""), "/"),
		JWTSecret:     src.str("jwt_secret", ""),
		JWTIssuer:     src.str("jwt_issuer", defaultJWTIssuer),
		JWTAudience:   src.str("jwt_audience", defaultJWTAudience),
	}

	var err error
	if cfg.TokenTTL, err = duration(src, "token_ttl", defaultTokenTTL); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = duration(src, "read_timeout", defaultReadTimeout); err != nil {
		return cfg, err
	}
	if cfg.UploadTimeout, err = duration(src, "upload_timeout", defaultUploadTimeout); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = duration(src, "write_timeout", defaultWriteTimeout); err != nil {
		return cfg, err
	}
	if cfg.RateWindow, err = duration(src, "rate_window", defaultRateWindow); err != nil {
		return cfg, err
	}

	cfg.RateLimit = defaultRateLimit
	if v, ok := src.lookup("rate_limit"); ok {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return cfg, fmt.Errorf("%sRATE_LIMIT must be a non-negative request count, got %q", EnvPrefix, v)
		}
		cfg.RateLimit = limit
	}

	cfg.MaxUploadSize = defaultMaxUploadSize
	if v, ok := src.lookup("max_upload_size"); ok && v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size <= 0 {
			return cfg, fmt.Errorf("%sMAX_UPLOAD_SIZE must be a positive byte count, got %q", EnvPrefix, v)
		}
		cfg.MaxUploadSize = size
	}

	if origins, ok := src.lookup("cors_allowed_origins"); ok && origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	// Validate required parameters
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("%sJWT_SECRET is required", EnvPrefix)
	}

	return cfg, nil
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool { return c.Env == "dev" }

// S3Enabled reports whether enough S3 settings are present to relay uploads.
func (c Config) S3Enabled() bool { return c.S3Bucket != "" && c.S3PublicURL != "" }

func loadFile(path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	values := map[string]interface{}{}
	if err := toml.NewDecoder(f).Decode(&values); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return values, nil
}

func duration(src source, key string, fallback time.Duration) (time.Duration, error) {
	v, ok := src.lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s%s must be a positive duration, got %q", EnvPrefix, strings.ToUpper(key), v)
	}
	return d, nil
}
