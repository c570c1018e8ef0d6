package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingAPIKey is returned by Load when no model credential is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Gemini    GeminiConfig
	Analysis  AnalysisConfig
	R2        R2Config
	Jobs      JobsConfig
	Tracing   TracingConfig
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
	Secret string
}

// OIDCConfig points at an OpenID Connect issuer whose JWKS signs access tokens
type OIDCConfig struct {
	Issuer   string
	ClientID string
}

// Auth modes
const (
	AuthModeNone    = "none"
	AuthModeJWT     = "jwt"
	AuthModeGateway = "gateway"
)

type AuthConfig struct {
	Mode string
}

type RateLimitConfig struct {
	AnalyzePerMin int
	JobsPerHour   int
}

type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	VideoModel string
	Timeout    int // seconds
}

// RequestTimeout is the per-call deadline imposed on model requests
func (g GeminiConfig) RequestTimeout() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

type AnalysisConfig struct {
	Language   string
	MaxAudioMB int
}

// MaxAudioBytes is the upload ceiling for audio and video files
func (a AnalysisConfig) MaxAudioBytes() int64 {
	return int64(a.MaxAudioMB) * 1024 * 1024
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether credentials for object storage are present
func (r R2Config) Configured() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.SecretAccessKey != ""
}

type JobsConfig struct {
	ResultTTLMinutes int
	Concurrency      int
}

// ResultTTL is how long job records stay in Redis
func (j JobsConfig) ResultTTL() time.Duration {
	return time.Duration(j.ResultTTLMinutes) * time.Minute
}

type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRate   float64
}

// Load reads configuration from config.yaml (optional), environment variables
// and Docker secrets. It fails when no model credential is available.
func Load() (*Config, error) {
	cfg := load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every entrypoint depends on
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return ErrMissingAPIKey
	}
	switch c.Auth.Mode {
	case AuthModeNone, AuthModeJWT, AuthModeGateway:
	default:
		return errors.New("AUTH_MODE must be one of none, jwt, gateway")
	}
	return nil
}

func load() *Config {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("GEMINI_API_KEY")
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = v.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = v.BindEnv("auth.mode", "AUTH_MODE")
	_ = v.BindEnv("ratelimit.analyze_per_min", "RATELIMIT_ANALYZE_PER_MIN")
	_ = v.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = v.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("gemini.base_url", "GEMINI_BASE_URL")
	_ = v.BindEnv("gemini.model", "GEMINI_MODEL")
	_ = v.BindEnv("gemini.video_model", "GEMINI_VIDEO_MODEL")
	_ = v.BindEnv("gemini.timeout", "GEMINI_TIMEOUT")
	_ = v.BindEnv("analysis.language", "ANALYSIS_LANGUAGE")
	_ = v.BindEnv("analysis.max_audio_mb", "ANALYSIS_MAX_AUDIO_MB")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("jobs.result_ttl_minutes", "JOBS_RESULT_TTL_MINUTES")
	_ = v.BindEnv("jobs.concurrency", "JOBS_CONCURRENCY")
	_ = v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	_ = v.BindEnv("tracing.otlp_endpoint", "OTLP_ENDPOINT")
	_ = v.BindEnv("tracing.sample_rate", "TRACING_SAMPLE_RATE")

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.mode", AuthModeNone)
	v.SetDefault("ratelimit.analyze_per_min", 10)
	v.SetDefault("ratelimit.jobs_per_hour", 60)

	// Gemini defaults
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-3-flash-preview")
	v.SetDefault("gemini.video_model", "gemini-3-pro-preview")
	v.SetDefault("gemini.timeout", 120)

	v.SetDefault("analysis.language", "pt-BR")
	v.SetDefault("analysis.max_audio_mb", 10)

	v.SetDefault("jobs.result_ttl_minutes", 60)
	v.SetDefault("jobs.concurrency", 4)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	return &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Auth: AuthConfig{
			Mode: strings.ToLower(v.GetString("auth.mode")),
		},
		RateLimit: RateLimitConfig{
			AnalyzePerMin: v.GetInt("ratelimit.analyze_per_min"),
			JobsPerHour:   v.GetInt("ratelimit.jobs_per_hour"),
		},
		Gemini: GeminiConfig{
			APIKey:     v.GetString("gemini.api_key"),
			BaseURL:    strings.TrimRight(v.GetString("gemini.base_url"), "/"),
			Model:      v.GetString("gemini.model"),
			VideoModel: v.GetString("gemini.video_model"),
			Timeout:    v.GetInt("gemini.timeout"),
		},
		Analysis: AnalysisConfig{
			Language:   v.GetString("analysis.language"),
			MaxAudioMB: v.GetInt("analysis.max_audio_mb"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Jobs: JobsConfig{
			ResultTTLMinutes: v.GetInt("jobs.result_ttl_minutes"),
			Concurrency:      v.GetInt("jobs.concurrency"),
		},
		Tracing: TracingConfig{
			Enabled:      v.GetBool("tracing.enabled"),
			OTLPEndpoint: v.GetString("tracing.otlp_endpoint"),
			SampleRate:   v.GetFloat64("tracing.sample_rate"),
		},
	}
}
