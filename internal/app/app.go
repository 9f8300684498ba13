// Package app assembles the billing server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eldercircle/eldercircle-billing/internal/accounts"
	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/config"
	"github.com/eldercircle/eldercircle-billing/internal/db"
	"github.com/eldercircle/eldercircle-billing/internal/http/api/admin"
	"github.com/eldercircle/eldercircle-billing/internal/http/api/front"
	"github.com/eldercircle/eldercircle-billing/internal/logging"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/ratelimit"
	internalsettings "github.com/eldercircle/eldercircle-billing/internal/settings"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/eldercircle/eldercircle-billing/internal/watcher"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the billing API and blocks until ctx is canceled.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	logCloser, errLog := logging.Setup(config.LoadLogConfig(configPath))
	if errLog != nil {
		return errLog
	}
	defer func() {
		if errClose := logCloser.Close(); errClose != nil {
			log.Errorf("log writer close error: %v", errClose)
		}
	}()

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	billingCfg, err := config.LoadBillingConfig(configPath)
	if err != nil {
		return err
	}
	catalog, err := plans.NewCatalog(billingCfg.PriceIDs)
	if err != nil {
		return fmt.Errorf("load plan catalog: %w", err)
	}
	if missing := catalog.Missing(); len(missing) > 0 {
		log.Warnf("billing: no price id configured for tiers %v", missing)
	}
	provider := newProvider(billingCfg)

	jwtCfg, adminJWTCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(jwtCfg.Secret) == "" {
		return fmt.Errorf("missing jwt secret (set `jwt.secret` or %s)", config.EnvJWTSecret)
	}

	live := watcher.NewLiveSettings(configPath)
	configWatcher := watcher.New(configPath, 0, live.OnChange)
	if errWatch := configWatcher.Start(ctx); errWatch != nil {
		log.WithError(errWatch).Warn("config watcher disabled")
	}
	defer func() { _ = configWatcher.Stop() }()

	limiter := ratelimit.NewManager(live.RateLimit, nil, nil)
	defer func() { _ = limiter.Close() }()

	serverCfg := config.LoadServerConfig(configPath, defaultPort)
	if !serverCfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, errEngine := newEngine(conn, engineDeps{
		billing:     billingCfg,
		catalog:     catalog,
		provider:    provider,
		jwt:         jwtCfg,
		adminJWT:    adminJWTCfg,
		rateLimiter: limiter,
	})
	if errEngine != nil {
		return errEngine
	}

	addr := fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting %s on %s with config=%s", internalsettings.DefaultServiceName, addr, configPath)
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// newProvider returns the Stripe provider, or billing.Disabled when no secret
// key is configured.
func newProvider(cfg config.BillingConfig) billing.Provider {
	provider, err := billing.NewStripeProvider(cfg.SecretKey, cfg.WebhookSecret)
	if err != nil {
		log.WithError(err).Warn("billing: provider disabled, plan changes will fail until configured")
		return billing.Disabled{}
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		log.Warn("billing: webhook secret missing, webhooks will be rejected")
	}
	return provider
}

// engineDeps carries the configuration-derived dependencies of newEngine.
type engineDeps struct {
	billing     config.BillingConfig
	catalog     *plans.Catalog
	provider    billing.Provider
	jwt         config.JWTConfig
	adminJWT    config.JWTConfig
	rateLimiter *ratelimit.Manager
	now         func() time.Time
}

// newEngine wires services and routes onto a gin engine.
func newEngine(conn *gorm.DB, deps engineDeps) (*gin.Engine, error) {
	if conn == nil {
		return nil, fmt.Errorf("app: nil database connection")
	}
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return nil, errInit
	}
	var initState atomic.Bool
	initState.Store(initialized)
	if !initialized {
		log.Warn("no admin account exists, POST /v0/init/setup to create one")
	}

	st := store.NewSubscriptionStore(conn)
	recorder := audit.NewRecorder(conn)
	subscriptions := subscription.NewService(st, deps.provider, deps.catalog, recorder, subscription.Options{
		RefundWindowDays: deps.billing.RefundWindowDays,
		TrialDays:        deps.billing.TrialDays,
		SuccessURL:       deps.billing.SuccessURL,
		CancelURL:        deps.billing.CancelURL,
		PortalReturnURL:  deps.billing.PortalReturnURL,
		Now:              deps.now,
	})

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.RequestID())
	engine.Use(logging.RequestLogger())

	front.RegisterFrontRoutes(engine, front.Deps{
		Subscriptions: subscriptions,
		Accounts:      accounts.NewService(st),
		Provider:      deps.provider,
		Catalog:       deps.catalog,
		JWT:           deps.jwt,
		RateLimiter:   deps.rateLimiter,
	})
	admin.RegisterAdminRoutes(engine, conn, deps.adminJWT, admin.Deps{
		Store:       st,
		Recorder:    recorder,
		RateLimiter: deps.rateLimiter,
	})

	engine.GET("/v0/init/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, InitStatusResponse{Initialized: initState.Load()})
	})
	engine.POST("/v0/init/setup", func(c *gin.Context) {
		if ok, errCheck := HasAdminInitialized(conn); errCheck != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "check admin status failed"})
			return
		} else if ok {
			initState.Store(true)
			c.JSON(http.StatusBadRequest, gin.H{"error": "System already initialized"})
			return
		}

		var req InitRequest
		if errBind := c.ShouldBindJSON(&req); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBind.Error()})
			return
		}
		req.AdminUsername = strings.TrimSpace(req.AdminUsername)
		if req.AdminUsername == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Admin username is required"})
			return
		}
		if len(req.AdminPassword) < minAdminPasswordLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Password must be at least %d characters", minAdminPasswordLength)})
			return
		}
		if errAdmin := CreateAdminUserWithConn(conn, req.AdminUsername, req.AdminPassword); errAdmin != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create admin: %v", errAdmin)})
			return
		}
		initState.Store(true)
		c.JSON(http.StatusOK, gin.H{"message": "Initialization successful"})
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found", "code": subscription.CodeNotFound})
	})
	return engine, nil
}
