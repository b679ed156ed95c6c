package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Capture   CaptureConfig
	R2        R2Config
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	CapturesPerHour int
}

// CaptureConfig tunes the download pipeline.
type CaptureConfig struct {
	Concurrency    int    // simultaneous in-flight jobs
	AttemptTimeout int    // seconds per extraction strategy attempt
	ScratchDir     string // transient per-attempt scratch area
	CookieFile     string // optional cookie jar handed to exec strategies
	YtDlpBinary    string
	YoutubeDL      string
	RetentionHours int // job record TTL after terminal stage
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.captures_per_hour", "RATELIMIT_CAPTURES_PER_HOUR")
	_ = viper.BindEnv("capture.concurrency", "CAPTURE_CONCURRENCY")
	_ = viper.BindEnv("capture.attempt_timeout", "CAPTURE_ATTEMPT_TIMEOUT")
	_ = viper.BindEnv("capture.scratch_dir", "CAPTURE_SCRATCH_DIR")
	_ = viper.BindEnv("capture.cookie_file", "CAPTURE_COOKIE_FILE")
	_ = viper.BindEnv("capture.ytdlp_binary", "CAPTURE_YTDLP_BINARY")
	_ = viper.BindEnv("capture.youtubedl_binary", "CAPTURE_YOUTUBEDL_BINARY")
	_ = viper.BindEnv("capture.retention_hours", "CAPTURE_RETENTION_HOURS")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.captures_per_hour", 30)

	// Capture defaults
	viper.SetDefault("capture.concurrency", 4)
	viper.SetDefault("capture.attempt_timeout", 120)
	viper.SetDefault("capture.scratch_dir", os.TempDir())
	viper.SetDefault("capture.cookie_file", "")
	viper.SetDefault("capture.ytdlp_binary", "yt-dlp")
	viper.SetDefault("capture.youtubedl_binary", "youtube-dl")
	viper.SetDefault("capture.retention_hours", 24)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			CapturesPerHour: viper.GetInt("ratelimit.captures_per_hour"),
		},
		Capture: CaptureConfig{
			Concurrency:    viper.GetInt("capture.concurrency"),
			AttemptTimeout: viper.GetInt("capture.attempt_timeout"),
			ScratchDir:     viper.GetString("capture.scratch_dir"),
			CookieFile:     viper.GetString("capture.cookie_file"),
			YtDlpBinary:    viper.GetString("capture.ytdlp_binary"),
			YoutubeDL:      viper.GetString("capture.youtubedl_binary"),
			RetentionHours: viper.GetInt("capture.retention_hours"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
