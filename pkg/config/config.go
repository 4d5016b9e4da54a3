package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Timezone  string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Tracing    TracingConfig
	Reschedule RescheduleConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	Endpoint     string
	Insecure     bool
	SampleRatio  float64
	BatchTimeout time.Duration
}

// RescheduleConfig tunes the plan-group reschedule workflow.
type RescheduleConfig struct {
	ProposalTTL        time.Duration
	SessionTTL         time.Duration
	RollbackWindow     time.Duration
	MaxDailyHours      float64
	PreviewCacheTTL    time.Duration
	PreviewCacheEnable bool
	SweepInterval      time.Duration
	InsertBatchSize    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Timezone = v.GetString("APP_TIMEZONE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	ratio := v.GetFloat64("OTEL_SAMPLER_RATIO")
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	cfg.Tracing = TracingConfig{
		Enabled:      v.GetBool("OTEL_ENABLED"),
		ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
		Endpoint:     v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:     v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		SampleRatio:  ratio,
		BatchTimeout: parseDuration(v.GetString("OTEL_BATCH_TIMEOUT"), 5*time.Second),
	}

	maxHours := v.GetFloat64("RESCHEDULE_MAX_DAILY_HOURS")
	if maxHours <= 0 {
		maxHours = 12
	}
	batchSize := v.GetInt("RESCHEDULE_INSERT_BATCH_SIZE")
	if batchSize <= 0 {
		batchSize = 100
	}
	cfg.Reschedule = RescheduleConfig{
		ProposalTTL:        parseDuration(v.GetString("RESCHEDULE_PROPOSAL_TTL"), 30*time.Minute),
		SessionTTL:         parseDuration(v.GetString("RESCHEDULE_SESSION_TTL"), 2*time.Hour),
		RollbackWindow:     parseDuration(v.GetString("RESCHEDULE_ROLLBACK_WINDOW"), 24*time.Hour),
		MaxDailyHours:      maxHours,
		PreviewCacheTTL:    parseDuration(v.GetString("RESCHEDULE_PREVIEW_CACHE_TTL"), 5*time.Minute),
		PreviewCacheEnable: v.GetBool("ENABLE_PREVIEW_CACHE"),
		SweepInterval:      parseDuration(v.GetString("RESCHEDULE_SWEEP_INTERVAL"), 10*time.Minute),
		InsertBatchSize:    batchSize,
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("APP_TIMEZONE", "Asia/Seoul")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "studyplan")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "studyplan-api")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SAMPLER_RATIO", 0.1)
	v.SetDefault("OTEL_BATCH_TIMEOUT", "5s")

	v.SetDefault("RESCHEDULE_PROPOSAL_TTL", "30m")
	v.SetDefault("RESCHEDULE_SESSION_TTL", "2h")
	v.SetDefault("RESCHEDULE_ROLLBACK_WINDOW", "24h")
	v.SetDefault("RESCHEDULE_MAX_DAILY_HOURS", 12)
	v.SetDefault("RESCHEDULE_PREVIEW_CACHE_TTL", "5m")
	v.SetDefault("ENABLE_PREVIEW_CACHE", true)
	v.SetDefault("RESCHEDULE_SWEEP_INTERVAL", "10m")
	v.SetDefault("RESCHEDULE_INSERT_BATCH_SIZE", 100)
}

// isMissingFile tolerates an absent .env; viper reports it as a plain fs error when
// SetConfigFile is used instead of a search path.
func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
