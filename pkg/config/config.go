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

// Payment provider identifiers accepted by PAYMENT_PROVIDER.
const (
	ProviderStripe      = "stripe"
	ProviderMercadoPago = "mercadopago"
	ProviderMock        = "mock"
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
	Payments      PaymentsConfig
	Locks         LocksConfig
	RateLimit     RateLimitConfig
	Grades        GradesConfig
	Audit         AuditConfig
	Notifications NotificationsConfig
	Housekeeping  HousekeepingConfig
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

// PaymentsConfig selects and tunes the external checkout provider.
type PaymentsConfig struct {
	Provider               string
	StripeSecretKey        string
	MercadoPagoAccessToken string
	Timeout                time.Duration
	SuccessURL             string
	CancelURL              string
	DefaultCurrency        string
}

// LocksConfig tunes the distributed confirm lock.
type LocksConfig struct {
	ConfirmLockTTL time.Duration
}

// RateLimitConfig bounds client polling on confirmation endpoints.
type RateLimitConfig struct {
	ConfirmLimit  int
	ConfirmWindow time.Duration
}

// GradesConfig governs grade aggregate caching.
type GradesConfig struct {
	AverageCacheTTL time.Duration
}

// AuditConfig controls the DynamoDB payment audit trail.
type AuditConfig struct {
	Enabled          bool
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	TableName        string
	WorkerCount      int
	WorkerRetries    int
	WorkerRetryDelay time.Duration
}

// NotificationsConfig configures operator e-mails.
type NotificationsConfig struct {
	SendgridAPIKey string
	SupportEmail   string
	FromEmail      string
	FromName       string
}

// HousekeepingConfig tunes the operator maintenance commands.
type HousekeepingConfig struct {
	PendingOrderTTL            time.Duration
	DroppedEnrollmentRetention time.Duration
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
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Payments = PaymentsConfig{
		Provider:               strings.ToLower(strings.TrimSpace(v.GetString("PAYMENT_PROVIDER"))),
		StripeSecretKey:        v.GetString("STRIPE_SECRET_KEY"),
		MercadoPagoAccessToken: v.GetString("MERCADOPAGO_ACCESS_TOKEN"),
		Timeout:                parseDuration(v.GetString("PAYMENT_PROVIDER_TIMEOUT"), 10*time.Second),
		SuccessURL:             v.GetString("PAYMENT_SUCCESS_URL"),
		CancelURL:              v.GetString("PAYMENT_CANCEL_URL"),
		DefaultCurrency:        strings.ToUpper(v.GetString("PAYMENT_DEFAULT_CURRENCY")),
	}
	if isTruthy(v.GetString("PAYMENT_GATEWAY_MOCK")) {
		cfg.Payments.Provider = ProviderMock
	}

	cfg.Locks = LocksConfig{
		ConfirmLockTTL: parseDuration(v.GetString("CONFIRM_LOCK_TTL"), 30*time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		ConfirmLimit:  v.GetInt("CONFIRM_RATE_LIMIT"),
		ConfirmWindow: parseDuration(v.GetString("CONFIRM_RATE_WINDOW"), time.Minute),
	}

	cfg.Grades = GradesConfig{
		AverageCacheTTL: parseDuration(v.GetString("GRADE_AVERAGE_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Audit = AuditConfig{
		Enabled:          v.GetBool("ENABLE_PAYMENT_AUDIT"),
		Region:           v.GetString("AWS_REGION"),
		Endpoint:         v.GetString("DYNAMODB_ENDPOINT"),
		AccessKeyID:      v.GetString("AWS_ACCESS_KEY_ID"),
		SecretAccessKey:  v.GetString("AWS_SECRET_ACCESS_KEY"),
		TableName:        v.GetString("PAYMENT_AUDIT_TABLE"),
		WorkerCount:      v.GetInt("AUDIT_WORKER_CONCURRENCY"),
		WorkerRetries:    v.GetInt("AUDIT_WORKER_RETRIES"),
		WorkerRetryDelay: parseDuration(v.GetString("AUDIT_WORKER_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		SendgridAPIKey: v.GetString("SENDGRID_API_KEY"),
		SupportEmail:   v.GetString("SUPPORT_EMAIL"),
		FromEmail:      v.GetString("NOTIFY_FROM_EMAIL"),
		FromName:       v.GetString("NOTIFY_FROM_NAME"),
	}

	cfg.Housekeeping = HousekeepingConfig{
		PendingOrderTTL:            parseDuration(v.GetString("PENDING_ORDER_TTL"), 24*time.Hour),
		DroppedEnrollmentRetention: parseDuration(v.GetString("DROPPED_ENROLLMENT_RETENTION"), 365*24*time.Hour),
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
	v.SetDefault("DB_NAME", "school")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", true)
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

	v.SetDefault("PAYMENT_PROVIDER", ProviderStripe)
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("MERCADOPAGO_ACCESS_TOKEN", "")
	v.SetDefault("PAYMENT_PROVIDER_TIMEOUT", "10s")
	v.SetDefault("PAYMENT_SUCCESS_URL", "http://localhost:3000/payment/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("PAYMENT_CANCEL_URL", "http://localhost:3000/payment/cancel")
	v.SetDefault("PAYMENT_DEFAULT_CURRENCY", "EUR")
	v.SetDefault("PAYMENT_GATEWAY_MOCK", "")

	v.SetDefault("CONFIRM_LOCK_TTL", "30s")
	v.SetDefault("CONFIRM_RATE_LIMIT", 30)
	v.SetDefault("CONFIRM_RATE_WINDOW", "1m")
	v.SetDefault("GRADE_AVERAGE_CACHE_TTL", "10m")

	v.SetDefault("ENABLE_PAYMENT_AUDIT", false)
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("DYNAMODB_ENDPOINT", "")
	v.SetDefault("AWS_ACCESS_KEY_ID", "local")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "local")
	v.SetDefault("PAYMENT_AUDIT_TABLE", "payment_events")
	v.SetDefault("AUDIT_WORKER_CONCURRENCY", 1)
	v.SetDefault("AUDIT_WORKER_RETRIES", 3)
	v.SetDefault("AUDIT_WORKER_RETRY_DELAY", "2s")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("SUPPORT_EMAIL", "")
	v.SetDefault("NOTIFY_FROM_EMAIL", "no-reply@localhost")
	v.SetDefault("NOTIFY_FROM_NAME", "School Payments")

	v.SetDefault("PENDING_ORDER_TTL", "24h")
	v.SetDefault("DROPPED_ENROLLMENT_RETENTION", "8760h")
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

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on", "mock":
		return true
	}
	return false
}
