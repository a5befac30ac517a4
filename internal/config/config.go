package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server and CLI read from the environment
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Uploads    UploadConfig
	Classifier ClassifierConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Auth       AuthConfig
	Discord    DiscordConfig
	Analysis   AnalysisConfig
	Privacy    PrivacyConfig
	LogLevel   string
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port           string
	DataDir        string
	CORSOrigins    []string
	EnableHSTS     bool
	RequestTimeout time.Duration
}

// DatabaseConfig selects the SQL driver. An empty URL with sqlite3 means
// <DataDir>/triage.db.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// UploadConfig configures image storage. S3 is used when Bucket is set.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
	S3Bucket string
	S3Region string
	S3Prefix string
}

// ClassifierConfig configures the image classification API
type ClassifierConfig struct {
	APIKey   string
	ModelURL string
	CacheTTL time.Duration
}

// RedisConfig is optional; without an address caches and limiters stay in memory
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig holds per-IP request budgets
type RateLimitConfig struct {
	PerMinute       int
	SubmitPerMinute int
}

// AuthConfig configures admin tokens. No secret means the admin routes are open.
type AuthConfig struct {
	JWTSecret     string
	AdminPassword string
	TokenTTL      time.Duration
}

// DiscordConfig configures reviewer notifications
type DiscordConfig struct {
	BotToken  string
	ChannelID string
	ReviewURL string
}

// Enabled reports whether both the token and the channel are set
func (d DiscordConfig) Enabled() bool {
	return d.BotToken != "" && d.ChannelID != ""
}

// AnalysisConfig tunes the engine
type AnalysisConfig struct {
	StrictKeywords bool
}

// PrivacyConfig controls how long submissions are kept
type PrivacyConfig struct {
	// RetentionDays of 0 keeps submissions forever
	RetentionDays int
}

// Retention converts RetentionDays to a duration
func (p PrivacyConfig) Retention() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

// Load reads .env (if present) and then the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only
func FromEnv() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := parseInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v, err := parseDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	dataDir := getEnvOrDefault("DATA_DIR", "./data")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvOrDefault("PORT", "8080"),
			DataDir:        dataDir,
			CORSOrigins:    splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
			EnableHSTS:     os.Getenv("ENABLE_HSTS") == "true",
			RequestTimeout: durationVar("REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver: getEnvOrDefault("DATABASE_DRIVER", "sqlite3"),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Uploads: UploadConfig{
			Dir:      getEnvOrDefault("UPLOAD_DIR", dataDir),
			MaxBytes: int64(intVar("UPLOAD_MAX_BYTES", 5<<20)),
			S3Bucket: os.Getenv("S3_BUCKET"),
			S3Region: getEnvOrDefault("S3_REGION", "us-east-1"),
			S3Prefix: os.Getenv("S3_PREFIX"),
		},
		Classifier: ClassifierConfig{
			APIKey:   os.Getenv("HUGGINGFACE_API_KEY"),
			ModelURL: os.Getenv("HUGGINGFACE_MODEL_URL"),
			CacheTTL: durationVar("CLASSIFIER_CACHE_TTL", 24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			PerMinute:       intVar("RATE_LIMIT_PER_MIN", 60),
			SubmitPerMinute: intVar("SUBMIT_RATE_LIMIT_PER_MIN", 10),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
			TokenTTL:      durationVar("JWT_TTL", 24*time.Hour),
		},
		Discord: DiscordConfig{
			BotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
			ChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
			ReviewURL: os.Getenv("DISCORD_REVIEW_URL"),
		},
		Analysis: AnalysisConfig{
			StrictKeywords: os.Getenv("STRICT_KEYWORDS") == "true",
		},
		Privacy: PrivacyConfig{
			RetentionDays: intVar("RETENTION_DAYS", 0),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	switch cfg.Database.Driver {
	case "sqlite3", "pgx", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER: unsupported driver %q", cfg.Database.Driver))
	}
	if cfg.Database.Driver != "sqlite3" && cfg.Database.URL == "" {
		errs = append(errs, fmt.Sprintf("DATABASE_URL is required for driver %s", cfg.Database.Driver))
	}
	if cfg.Privacy.RetentionDays < 0 {
		errs = append(errs, "RETENTION_DAYS must not be negative")
	}
	if cfg.Uploads.MaxBytes <= 0 {
		errs = append(errs, "UPLOAD_MAX_BYTES must be positive")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return v, nil
}

// parseDuration accepts Go durations ("90s", "1h") or plain seconds
func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
