package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/services"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Redis     RedisConfig
	Email     EmailConfig
	TwoFactor TwoFactorConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port                 string
	Env                  string
	LogLevel             string
	NumProxies           int
	TrustedProxies       []string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	ShutdownTimeout      time.Duration
	RateLimitPerMinute   int
	CookieDomain         string
	CookieSecure         bool
	CookieSameSite       string
	StoreCleanupInterval time.Duration
}

// RedisConfig selects the shared store. An empty URL means the in-memory store.
type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type EmailConfig struct {
	Provider  string // "ses" or "log"
	AWSRegion string
	From      string
}

type TwoFactorConfig struct {
	Enabled           bool
	ThrottlingEnabled bool
	Types             []string
	DefaultType       string
	PerUserType       bool

	Auth   models.ThrottleCondition
	Obtain models.ThrottleCondition
	Verify models.ThrottleCondition

	LockoutMaxAttempts    int
	LockoutWindow         time.Duration
	LockoutNotifyCooldown time.Duration

	DeviceTrustTTL time.Duration
	EmailCodeTTL   time.Duration

	TOTPEncryptionKey []byte
	TOTPIssuer        string

	TimingBaseDelayMs   int
	TimingRandomDelayMs int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "stepgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:                 getEnv("PORT", "8080"),
			Env:                  env,
			LogLevel:             getEnv("LOG_LEVEL", "info"),
			NumProxies:           getEnvAsInt("NUM_PROXIES", 0),
			TrustedProxies:       getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:          getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:         getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:          getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout:      getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitPerMinute:   getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
			CookieDomain:         getEnv("COOKIE_DOMAIN", ""),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:       getEnv("COOKIE_SAMESITE", "lax"),
			StoreCleanupInterval: getEnvAsDuration("STORE_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "stepgate"),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvAsDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvAsDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Email: EmailConfig{
			Provider:  strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			From:      getEnv("EMAIL_FROM", "noreply@stepgate.local"),
		},
		TwoFactor: TwoFactorConfig{
			Enabled:           getEnvAsBool("TWOFACTOR_ENABLED", true),
			ThrottlingEnabled: getEnvAsBool("TWOFACTOR_THROTTLING_ENABLED", true),
			Types:             getEnvAsListOr("TWOFACTOR_TYPES", []string{services.StrategyDirect, services.StrategyEmail}),
			DefaultType:       getEnv("TWOFACTOR_DEFAULT_TYPE", services.StrategyEmail),
			PerUserType:       getEnvAsBool("TWOFACTOR_PER_USER_TYPE", false),
			Auth: models.ThrottleCondition{
				MaxAttempts: getEnvAsInt("THROTTLE_AUTH_MAX_ATTEMPTS", 10),
				Window:      getEnvAsDuration("THROTTLE_AUTH_WINDOW", 5*time.Minute),
			},
			Obtain: models.ThrottleCondition{
				MaxAttempts: getEnvAsInt("THROTTLE_OBTAIN_MAX_ATTEMPTS", 3),
				Window:      getEnvAsDuration("THROTTLE_OBTAIN_WINDOW", 5*time.Minute),
			},
			Verify: models.ThrottleCondition{
				MaxAttempts: getEnvAsInt("THROTTLE_VERIFY_MAX_ATTEMPTS", 3),
				Window:      getEnvAsDuration("THROTTLE_VERIFY_WINDOW", 5*time.Minute),
			},
			LockoutMaxAttempts:    getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 10),
			LockoutWindow:         getEnvAsDuration("LOCKOUT_WINDOW", 2*time.Hour),
			LockoutNotifyCooldown: getEnvAsDuration("LOCKOUT_NOTIFY_COOLDOWN", 30*time.Minute),
			DeviceTrustTTL:        getEnvAsDuration("DEVICE_TRUST_TTL", 4*7*24*time.Hour),
			EmailCodeTTL:          getEnvAsDuration("EMAIL_CODE_TTL", 24*time.Hour),
			TOTPIssuer:            getEnv("TOTP_ISSUER", "Stepgate"),
			TimingBaseDelayMs:     getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingRandomDelayMs:   getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Email.Provider != "ses" && cfg.Email.Provider != "log" {
		return nil, fmt.Errorf("EMAIL_PROVIDER must be ses or log (got %q)", cfg.Email.Provider)
	}

	if err := cfg.TwoFactor.loadTOTPKey(getEnv("TOTP_ENCRYPTION_KEY", "")); err != nil {
		return nil, err
	}

	if err := cfg.TwoFactor.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload re-reads the configuration for a running process. Values from .env
// replace the ones loaded at startup.
func Reload() (*Config, error) {
	_ = godotenv.Overload()
	return Load()
}

// loadTOTPKey decodes the base64 AES-256 key. It is only required when the
// totp strategy is enabled.
func (c *TwoFactorConfig) loadTOTPKey(encoded string) error {
	if encoded == "" {
		if c.HasType(services.StrategyTOTP) {
			return fmt.Errorf("TOTP_ENCRYPTION_KEY is required when %q is enabled", services.StrategyTOTP)
		}
		return nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}

	c.TOTPEncryptionKey = key
	return nil
}

func (c *TwoFactorConfig) validate() error {
	known := []string{services.StrategyDirect, services.StrategyEmail, services.StrategyTOTP}
	for _, t := range c.Types {
		if !slices.Contains(known, t) {
			return fmt.Errorf("TWOFACTOR_TYPES: unknown type %q", t)
		}
	}

	if !c.HasType(c.DefaultType) {
		return fmt.Errorf("TWOFACTOR_DEFAULT_TYPE %q is not one of TWOFACTOR_TYPES %v", c.DefaultType, c.Types)
	}

	conditions := []struct {
		name string
		c    models.ThrottleCondition
	}{
		{"THROTTLE_AUTH", c.Auth},
		{"THROTTLE_OBTAIN", c.Obtain},
		{"THROTTLE_VERIFY", c.Verify},
		{"LOCKOUT", models.ThrottleCondition{MaxAttempts: c.LockoutMaxAttempts, Window: c.LockoutWindow}},
	}
	for _, cond := range conditions {
		if cond.c.MaxAttempts < 1 {
			return fmt.Errorf("%s_MAX_ATTEMPTS must be >= 1", cond.name)
		}
		if cond.c.Window <= 0 {
			return fmt.Errorf("%s_WINDOW must be > 0", cond.name)
		}
	}

	if c.LockoutNotifyCooldown <= 0 {
		return fmt.Errorf("LOCKOUT_NOTIFY_COOLDOWN must be > 0")
	}
	if c.DeviceTrustTTL <= 0 {
		return fmt.Errorf("DEVICE_TRUST_TTL must be > 0")
	}
	if c.EmailCodeTTL <= 0 {
		return fmt.Errorf("EMAIL_CODE_TTL must be > 0")
	}

	return nil
}

// HasType reports whether the strategy tag is enabled
func (c *TwoFactorConfig) HasType(tag string) bool {
	return slices.Contains(c.Types, tag)
}

// Settings maps the environment onto the orchestrator's runtime settings
func (c *TwoFactorConfig) Settings() services.TwoFactorSettings {
	settings := services.TwoFactorSettings{
		Enabled:           c.Enabled,
		ThrottlingEnabled: c.ThrottlingEnabled,
		DefaultStrategy:   c.DefaultType,
		Auth:              c.Auth,
		Obtain:            c.Obtain,
		Verify:            c.Verify,
		Lockout: services.LockoutConfig{
			MaxAttempts:    c.LockoutMaxAttempts,
			Window:         c.LockoutWindow,
			NotifyCooldown: c.LockoutNotifyCooldown,
		},
	}
	if c.PerUserType {
		settings.StrategyOverride = services.UserTwoFactorType
	}
	return settings
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	return getEnvAsListOr(key, nil)
}

func getEnvAsListOr(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
