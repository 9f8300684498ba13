package settings

import "time"

// Service defaults used when the config file omits a value.
const (
	// DefaultServiceName is the name reported by health and version endpoints.
	DefaultServiceName = "eldercircle-billing"
	// DefaultPort is the HTTP port used when neither flag nor config set one.
	DefaultPort = 8420
	// DefaultRefundWindowDays is the number of days after the subscription
	// start during which a cancellation is refunded in full.
	DefaultRefundWindowDays = 7
	// DefaultTrialDays is the trial length granted at signup.
	DefaultTrialDays = 14
	// DefaultRateLimit is the per-account mutation limit per second (0 means unlimited).
	DefaultRateLimit = 2
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "ecb:rl"
	// DefaultAuditListLimit caps billing event listings without an explicit limit.
	DefaultAuditListLimit = 100
	// MaxAuditListLimit caps billing event listings with an explicit limit.
	MaxAuditListLimit = 1000
	// DefaultProviderTimeout bounds a single billing provider round trip.
	DefaultProviderTimeout = 15 * time.Second
)
