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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Hash      HashConfig
	Email     EmailConfig
	SMTP      SMTPConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
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
	Migrate      bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds token signing material and lifetimes. Access and refresh
// tokens are signed with different secrets so one kind can never be replayed
// as the other; RefreshSecret falls back to Secret when unset.
type JWTConfig struct {
	Secret        string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type HashConfig struct {
	// Scheme selects the algorithm for new digests: "argon2id" or "bcrypt".
	// Verification accepts digests from either scheme regardless.
	Scheme     string
	BcryptCost int
}

type EmailConfig struct {
	VerificationEnabled bool
	VerificationTTL     time.Duration
	FrontendURL         string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	UseTLS   bool
}

// CleanupConfig drives the retention scheduler.
type CleanupConfig struct {
	TokenInterval    time.Duration
	UserInterval     time.Duration
	UnverifiedMaxAge time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBaseDelay   time.Duration
}

type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
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
		if !errors.As(err, &notFound) {
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
		Migrate:      v.GetBool("DB_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:        v.GetString("JWT_SECRET_KEY"),
		RefreshSecret: v.GetString("JWT_REFRESH_SECRET_KEY"),
		Issuer:        v.GetString("JWT_ISSUER"),
		AccessTTL:     parseDuration(v.GetString("ACCESS_TOKEN_TTL"), 30*time.Minute),
		RefreshTTL:    parseDuration(v.GetString("REFRESH_TOKEN_TTL"), 7*24*time.Hour),
	}
	if cfg.JWT.RefreshSecret == "" {
		cfg.JWT.RefreshSecret = cfg.JWT.Secret
	}

	cfg.Hash = HashConfig{
		Scheme:     v.GetString("PASSWORD_HASH_SCHEME"),
		BcryptCost: v.GetInt("PASSWORD_BCRYPT_COST"),
	}

	cfg.Email = EmailConfig{
		VerificationEnabled: v.GetBool("EMAIL_VERIFICATION_ENABLED"),
		VerificationTTL:     parseDuration(v.GetString("VERIFICATION_TOKEN_TTL"), 15*time.Minute),
		FrontendURL:         v.GetString("FRONTEND_URL"),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		User:     v.GetString("SMTP_USER"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM_EMAIL"),
		UseTLS:   v.GetBool("SMTP_TLS"),
	}

	cfg.Cleanup = CleanupConfig{
		TokenInterval:    parseDuration(v.GetString("CLEANUP_TOKEN_INTERVAL"), time.Hour),
		UserInterval:     parseDuration(v.GetString("CLEANUP_USER_INTERVAL"), 24*time.Hour),
		UnverifiedMaxAge: parseDuration(v.GetString("CLEANUP_UNVERIFIED_MAX_AGE"), 48*time.Hour),
		BatchSize:        v.GetInt("CLEANUP_BATCH_SIZE"),
		MaxRetries:       v.GetInt("CLEANUP_MAX_RETRIES"),
		RetryBaseDelay:   parseDuration(v.GetString("CLEANUP_RETRY_BASE_DELAY"), 5*time.Minute),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:   v.GetBool("RATE_LIMIT_ENABLED"),
		PerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
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
	v.SetDefault("DB_NAME", "coffeeshop")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_ISSUER", "Coffee Shop API")

	v.SetDefault("PASSWORD_HASH_SCHEME", "argon2id")
	v.SetDefault("PASSWORD_BCRYPT_COST", 12)

	v.SetDefault("EMAIL_VERIFICATION_ENABLED", true)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")

	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_FROM_EMAIL", "noreply@coffeeshop.com")
	v.SetDefault("SMTP_TLS", true)

	v.SetDefault("CLEANUP_BATCH_SIZE", 100)
	v.SetDefault("CLEANUP_MAX_RETRIES", 3)

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 100)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
