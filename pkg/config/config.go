package config

import (
	"errors"
	"io/fs"
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

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Discipline    DisciplineConfig
	Rules         RulesConfig
	Notifications NotificationsConfig
	Deletion      DeletionConfig
	Evidence      EvidenceConfig
	Reconcile     ReconcileConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	Issuer            string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DisciplineConfig holds the thresholds used until an administrator stores their own.
type DisciplineConfig struct {
	DefaultProbationAt     uint
	DefaultExpulsionRiskAt uint
}

// RulesConfig tunes the rule catalog cache.
type RulesConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// NotificationsConfig governs fan-out and retention of notification records.
type NotificationsConfig struct {
	FanoutConcurrency int
	Dedupe            bool
	RetentionPeriod   time.Duration
	CleanupInterval   time.Duration
}

// DeletionConfig tunes the bulk student deletion saga.
type DeletionConfig struct {
	IdentityConcurrency int
}

// EvidenceConfig controls evidence storage & validation.
type EvidenceConfig struct {
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ReconcileConfig sizes the point-total reconciliation worker pool.
type ReconcileConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Discipline = DisciplineConfig{
		DefaultProbationAt:     v.GetUint("DISCIPLINE_PROBATION_AT"),
		DefaultExpulsionRiskAt: v.GetUint("DISCIPLINE_EXPULSION_RISK_AT"),
	}

	cfg.Rules = RulesConfig{
		CacheEnabled: v.GetBool("RULES_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("RULES_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		FanoutConcurrency: v.GetInt("NOTIFICATIONS_FANOUT_CONCURRENCY"),
		Dedupe:            v.GetBool("NOTIFICATIONS_DEDUPE"),
		RetentionPeriod:   parseDuration(v.GetString("NOTIFICATIONS_RETENTION"), 90*24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("NOTIFICATIONS_CLEANUP_INTERVAL"), 24*time.Hour),
	}

	cfg.Deletion = DeletionConfig{
		IdentityConcurrency: v.GetInt("DELETION_IDENTITY_CONCURRENCY"),
	}

	maxEvidenceSize := v.GetInt64("EVIDENCE_MAX_FILE_SIZE")
	if maxEvidenceSize <= 0 {
		maxEvidenceSize = 5 * 1024 * 1024
	}
	cfg.Evidence = EvidenceConfig{
		StorageDir:       v.GetString("EVIDENCE_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("EVIDENCE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("EVIDENCE_SIGNED_URL_TTL"), 7*24*time.Hour),
		MaxFileSizeBytes: maxEvidenceSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("EVIDENCE_ALLOWED_MIME_TYPES")),
	}

	cfg.Reconcile = ReconcileConfig{
		Workers:    v.GetInt("RECONCILE_WORKERS"),
		Retries:    v.GetInt("RECONCILE_RETRIES"),
		RetryDelay: parseDuration(v.GetString("RECONCILE_RETRY_DELAY"), 2*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "discipline")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "sma-discipline-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DISCIPLINE_PROBATION_AT", 20)
	v.SetDefault("DISCIPLINE_EXPULSION_RISK_AT", 50)

	v.SetDefault("RULES_CACHE_ENABLED", true)
	v.SetDefault("RULES_CACHE_TTL", "10m")

	v.SetDefault("NOTIFICATIONS_FANOUT_CONCURRENCY", 8)
	v.SetDefault("NOTIFICATIONS_DEDUPE", true)
	v.SetDefault("NOTIFICATIONS_RETENTION", "2160h")
	v.SetDefault("NOTIFICATIONS_CLEANUP_INTERVAL", "24h")

	v.SetDefault("DELETION_IDENTITY_CONCURRENCY", 4)

	v.SetDefault("EVIDENCE_STORAGE_DIR", "./evidence")
	v.SetDefault("EVIDENCE_SIGNED_URL_SECRET", "dev_evidence_secret")
	v.SetDefault("EVIDENCE_SIGNED_URL_TTL", "168h")
	v.SetDefault("EVIDENCE_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("EVIDENCE_ALLOWED_MIME_TYPES", "image/jpeg,image/png,application/pdf")

	v.SetDefault("RECONCILE_WORKERS", 2)
	v.SetDefault("RECONCILE_RETRIES", 3)
	v.SetDefault("RECONCILE_RETRY_DELAY", "2s")
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
