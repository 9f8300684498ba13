package watcher

import (
	"strings"
	"sync/atomic"

	"github.com/eldercircle/eldercircle-billing/internal/config"
	log "github.com/sirupsen/logrus"
)

// LiveSettings holds the hot-reloadable settings of a config file.
type LiveSettings struct {
	configPath string
	rateLimit  atomic.Pointer[config.RateLimitConfig]
}

// NewLiveSettings loads the current settings of configPath.
func NewLiveSettings(configPath string) *LiveSettings {
	s := &LiveSettings{configPath: configPath}
	s.Reload()
	return s
}

// RateLimit returns the current rate limit settings. It satisfies
// ratelimit.SettingsProvider as a method value.
func (s *LiveSettings) RateLimit() config.RateLimitConfig {
	if cfg := s.rateLimit.Load(); cfg != nil {
		return *cfg
	}
	return config.RateLimitConfig{}
}

// Reload rereads the config file. The log level is applied to the global
// logger when it parses.
func (s *LiveSettings) Reload() {
	rl := config.LoadRateLimitConfig(s.configPath)
	s.rateLimit.Store(&rl)

	logCfg := config.LoadLogConfig(s.configPath)
	if level, errParse := log.ParseLevel(strings.TrimSpace(logCfg.Level)); errParse == nil && level != log.GetLevel() {
		log.SetLevel(level)
		log.Infof("log level set to %s", level)
	}
}

// OnChange adapts Reload to a ChangeFunc.
func (s *LiveSettings) OnChange(_ []byte) { s.Reload() }
