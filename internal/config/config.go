package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Cache store (redis). Optional: when the address is empty the app runs
	// without a cache store and callers degrade (cache miss, rate limit open).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// File roots. Originals and derivatives are kept under separate roots so
	// the access controller can contain path resolution per variant kind.
	OriginalsRoot   string
	DerivativesRoot string

	// Security
	JWTSecret     string
	SigningSecret string        // HMAC key for temporary file URLs
	SignedURLTTL  time.Duration // default expiry for signed URLs

	// Geocoding (Nominatim-compatible provider)
	GeocoderBaseURL   string
	GeocoderUserAgent string
	GeocoderLanguage  string
	GeocoderTimeout   time.Duration

	// Rate limiting
	RateLimitFiles    int // file requests per client per window
	RateLimitUploads  int // uploads per client per window
	RateLimitWindow   time.Duration
	RateLimitFailOpen bool // kept true: availability over strict enforcement

	// Derivative encoding
	DerivativeSpecJSON string // optional JSON override of the built-in tier table
	AVIFQualityOffset  int
	AVIFQualityFloor   int
	MaxUploadBytes     int64

	// Observability (optional)
	SentryDSN string

	// S3 replica (optional off-site copy of originals)
	S3Enabled   bool
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional: for S3-compatible services (MinIO, R2, etc.)
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Aperture"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  envString("APP_URL", "http://localhost:8090"),
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/aperture.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Cache store
		RedisAddr:     envString("REDIS_ADDR", ""),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		// File roots
		OriginalsRoot:   envString("ORIGINALS_ROOT", "./data/originals"),
		DerivativesRoot: envString("DERIVATIVES_ROOT", "./data/derivatives"),

		// Security
		JWTSecret:     envRequired("JWT_SECRET"),
		SigningSecret: envRequired("SIGNING_SECRET"),
		SignedURLTTL:  envDuration("SIGNED_URL_TTL", 15*time.Minute),

		// Geocoding
		GeocoderBaseURL:   envString("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent: envString("GEOCODER_USER_AGENT", "aperture/1.0 (+https://github.com/lensworks/aperture)"),
		GeocoderLanguage:  envString("GEOCODER_LANGUAGE", "en"),
		GeocoderTimeout:   envDuration("GEOCODER_TIMEOUT", 10*time.Second),

		// Rate limiting
		RateLimitFiles:    envInt("RATE_LIMIT_FILES", 120),
		RateLimitUploads:  envInt("RATE_LIMIT_UPLOADS", 10),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitFailOpen: envBool("RATE_LIMIT_FAIL_OPEN", true),

		// Derivative encoding
		DerivativeSpecJSON: envString("DERIVATIVE_SPEC_JSON", ""),
		AVIFQualityOffset:  envInt("AVIF_QUALITY_OFFSET", -10),
		AVIFQualityFloor:   envInt("AVIF_QUALITY_FLOOR", 50),
		MaxUploadBytes:     envInt64("MAX_UPLOAD_BYTES", 50<<20), // 50MB

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// S3 replica
		S3Enabled:   envBool("S3_ENABLED", false),
		S3Region:    envString("S3_REGION", ""),
		S3Bucket:    envString("S3_BUCKET", ""),
		S3AccessKey: envString("S3_ACCESS_KEY", ""),
		S3SecretKey: envString("S3_SECRET_KEY", ""),
		S3Endpoint:  envString("S3_ENDPOINT", ""),
	}

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures required services are configured for production
// deployments. Development allows the cache store to be absent for easier
// local testing.
func validateProduction(cfg *Config) {
	if cfg.RedisAddr == "" {
		slog.Error("production deployment requires REDIS_ADDR",
			"hint", "set APP_ENV=development to run without a cache store (rate limiting fails open)")
		os.Exit(1)
	}
	if cfg.S3Enabled && (cfg.S3Bucket == "" || cfg.S3Region == "") {
		slog.Error("S3 replica enabled but S3_BUCKET/S3_REGION missing")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets and credentials are excluded.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName: c.AppName,
		AppEnv:  c.AppEnv,
		AppURL:  c.AppURL,
		Port:    c.Port,

		GeocoderBaseURL:  c.GeocoderBaseURL,
		GeocoderLanguage: c.GeocoderLanguage,

		S3Endpoint: c.S3Endpoint,
	}
}
