package admin

import (
	"net/http"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/audit"
	"github.com/eldercircle/eldercircle-billing/internal/config"
	handlers "github.com/eldercircle/eldercircle-billing/internal/http/api/admin/handlers"
	"github.com/eldercircle/eldercircle-billing/internal/models"
	"github.com/eldercircle/eldercircle-billing/internal/ratelimit"
	"github.com/eldercircle/eldercircle-billing/internal/security"
	"github.com/eldercircle/eldercircle-billing/internal/store"
	"github.com/eldercircle/eldercircle-billing/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps bundles the services behind the admin routes.
type Deps struct {
	Store       *store.SubscriptionStore
	Recorder    *audit.Recorder
	RateLimiter *ratelimit.Manager
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, deps Deps) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", loginRateLimitMiddleware(deps.RateLimiter), authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	if deps.Store != nil {
		subscriptionHandler := handlers.NewSubscriptionHandler(deps.Store, usage.NewGormCounter(db), nil)
		authed.GET("/subscriptions", subscriptionHandler.List)
		authed.GET("/subscriptions/:accountId", subscriptionHandler.Get)
	}

	if deps.Recorder != nil {
		eventHandler := handlers.NewEventHandler(deps.Recorder)
		authed.GET("/events", eventHandler.List)
	}
}

// loginRateLimitMiddleware limits login attempts per username.
func loginRateLimitMiddleware(m *ratelimit.Manager) gin.HandlerFunc {
	limit := ratelimit.Middleware(m, func(c *gin.Context, cfg config.RateLimitConfig) ratelimit.Decision {
		body, _ := c.Get(handlers.LoginRequestKey)
		req, _ := body.(handlers.LoginRequest)
		return ratelimit.DecisionForAdmin(cfg, req.Username)
	})
	return func(c *gin.Context) {
		var body handlers.LoginRequest
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		c.Set(handlers.LoginRequestKey, body)
		limit(c)
	}
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
