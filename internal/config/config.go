package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	internalsettings "github.com/eldercircle/eldercircle-billing/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath          = "CONFIG_PATH"
	EnvDBConnection        = "DB_CONNECTION"
	EnvJWTSecret           = "JWT_SECRET"
	EnvJWTExpiry           = "JWT_EXPIRY"
	EnvAdminJWTSecret      = "ADMIN_JWT_SECRET"
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvLogLevel            = "LOG_LEVEL"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// BillingConfig holds billing provider credentials and plan lifecycle settings.
type BillingConfig struct {
	SecretKey        string            `yaml:"secret-key"`         // Stripe secret API key.
	WebhookSecret    string            `yaml:"webhook-secret"`     // Stripe webhook signing secret.
	PriceIDs         map[string]string `yaml:"price-ids"`          // Tier -> provider price identifier.
	SuccessURL       string            `yaml:"success-url"`        // Checkout success redirect.
	CancelURL        string            `yaml:"cancel-url"`         // Checkout cancel redirect.
	PortalReturnURL  string            `yaml:"portal-return-url"`  // Billing portal return URL.
	RefundWindowDays int               `yaml:"refund-window-days"` // Full-refund window after start.
	TrialDays        int               `yaml:"trial-days"`         // Trial length at signup.
}

// RateLimitConfig holds per-account rate limit settings.
type RateLimitConfig struct {
	Limit         int    `yaml:"limit"`
	RedisEnabled  bool   `yaml:"redis-enabled"`
	RedisAddr     string `yaml:"redis-addr"`
	RedisPassword string `yaml:"redis-password"`
	RedisDB       int    `yaml:"redis-db"`
	RedisPrefix   string `yaml:"redis-prefix"`
}

// LogConfig holds logging output settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json".
	ToFile     bool   `yaml:"to-file"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// readConfigFile reads and decodes the YAML file into out.
func readConfigFile(configPath string, out any) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if errUnmarshal := yaml.Unmarshal(data, out); errUnmarshal != nil {
		return fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	return nil
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return "", errRead
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads user and admin JWT settings from the YAML config file.
// The admin secret falls back to the user secret when not configured.
func LoadJWTConfig(configPath string) (user JWTConfig, admin JWTConfig, err error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT      JWTConfig `yaml:"jwt"`
		AdminJWT JWTConfig `yaml:"admin-jwt"`
	}

	user = JWTConfig{Expiry: defaultJWTExpiry}
	admin = JWTConfig{Expiry: defaultJWTExpiry}

	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead == nil {
		user = cfg.JWT
		admin = cfg.AdminJWT
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		user.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			user.Expiry = expiry
		}
	}
	if secret := strings.TrimSpace(os.Getenv(EnvAdminJWTSecret)); secret != "" {
		admin.Secret = secret
	}
	if strings.TrimSpace(admin.Secret) == "" {
		admin.Secret = user.Secret
	}

	if user.Expiry <= 0 {
		user.Expiry = defaultJWTExpiry
	}
	if admin.Expiry <= 0 {
		admin.Expiry = defaultJWTExpiry
	}
	return user, admin, nil
}

// LoadBillingConfig loads billing provider settings and applies defaults.
func LoadBillingConfig(configPath string) (BillingConfig, error) {
	// fileConfig maps the YAML fields needed for billing settings.
	type fileConfig struct {
		Billing BillingConfig `yaml:"billing"`
	}

	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil && !errors.Is(errRead, os.ErrNotExist) {
		return BillingConfig{}, errRead
	}
	result := cfg.Billing

	if key := strings.TrimSpace(os.Getenv(EnvStripeSecretKey)); key != "" {
		result.SecretKey = key
	}
	if secret := strings.TrimSpace(os.Getenv(EnvStripeWebhookSecret)); secret != "" {
		result.WebhookSecret = secret
	}
	if result.RefundWindowDays <= 0 {
		result.RefundWindowDays = internalsettings.DefaultRefundWindowDays
	}
	if result.TrialDays <= 0 {
		result.TrialDays = internalsettings.DefaultTrialDays
	}
	if result.PriceIDs == nil {
		result.PriceIDs = map[string]string{}
	}
	for tier, priceID := range result.PriceIDs {
		result.PriceIDs[tier] = strings.TrimSpace(priceID)
	}
	return result, nil
}

// LoadRateLimitConfig loads rate limit settings and applies defaults.
func LoadRateLimitConfig(configPath string) RateLimitConfig {
	// fileConfig maps the YAML fields needed for rate limit settings.
	type fileConfig struct {
		RateLimit *RateLimitConfig `yaml:"rate-limit"`
	}

	result := RateLimitConfig{
		Limit:       internalsettings.DefaultRateLimit,
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead == nil && cfg.RateLimit != nil {
		result = *cfg.RateLimit
	}

	result.RedisAddr = strings.TrimSpace(result.RedisAddr)
	result.RedisPassword = strings.TrimSpace(result.RedisPassword)
	result.RedisPrefix = strings.TrimSpace(result.RedisPrefix)
	if result.RedisPrefix == "" {
		result.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if result.RedisDB < 0 {
		result.RedisDB = 0
	}
	if result.Limit < 0 {
		result.Limit = 0
	}
	return result
}

// LoadLogConfig loads logging settings; a missing file yields defaults.
func LoadLogConfig(configPath string) LogConfig {
	// fileConfig maps the YAML fields needed for logging settings.
	type fileConfig struct {
		Logging LogConfig `yaml:"logging"`
	}

	var cfg fileConfig
	_ = readConfigFile(configPath, &cfg)
	result := cfg.Logging
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		result.Level = level
	}
	if strings.TrimSpace(result.Level) == "" {
		result.Level = "info"
	}
	if strings.TrimSpace(result.Format) == "" {
		result.Format = "text"
	}
	return result
}

// LoadServerConfig loads listener settings; a missing file yields defaults.
func LoadServerConfig(configPath string, defaultPort int) ServerConfig {
	var cfg ServerConfig
	_ = readConfigFile(configPath, &cfg)
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Port <= 0 {
		cfg.Port = internalsettings.DefaultPort
	}
	return cfg
}
