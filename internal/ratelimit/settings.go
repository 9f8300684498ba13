package ratelimit

import (
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/config"
	internalsettings "github.com/eldercircle/eldercircle-billing/internal/settings"
)

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() config.RateLimitConfig

// StaticSettings returns a provider that always yields cfg with defaults
// applied.
func StaticSettings(cfg config.RateLimitConfig) SettingsProvider {
	normalized := normalizeSettings(cfg)
	return func() config.RateLimitConfig { return normalized }
}

// defaultSettings is used when a Manager is built without a provider.
func defaultSettings() config.RateLimitConfig {
	return config.RateLimitConfig{
		Limit:       internalsettings.DefaultRateLimit,
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
	}
}

func normalizeSettings(cfg config.RateLimitConfig) config.RateLimitConfig {
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(cfg.RedisPassword)
	cfg.RedisPrefix = strings.TrimSpace(cfg.RedisPrefix)
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	return cfg
}

// DecisionForAccount resolves the limit that applies to mutations by accountID.
func DecisionForAccount(cfg config.RateLimitConfig, accountID string) Decision {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || cfg.Limit <= 0 {
		return Decision{}
	}
	return Decision{Limit: cfg.Limit, Scope: ScopeAccount, Subject: accountID}
}

// DecisionForAdmin resolves the limit that applies to admin logins by username.
func DecisionForAdmin(cfg config.RateLimitConfig, username string) Decision {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || cfg.Limit <= 0 {
		return Decision{}
	}
	return Decision{Limit: cfg.Limit, Scope: ScopeAdmin, Subject: username}
}
