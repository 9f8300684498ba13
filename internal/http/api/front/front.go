package front

import (
	"net/http"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/accounts"
	"github.com/eldercircle/eldercircle-billing/internal/billing"
	"github.com/eldercircle/eldercircle-billing/internal/config"
	handlers "github.com/eldercircle/eldercircle-billing/internal/http/api/front/handlers"
	"github.com/eldercircle/eldercircle-billing/internal/plans"
	"github.com/eldercircle/eldercircle-billing/internal/ratelimit"
	"github.com/eldercircle/eldercircle-billing/internal/security"
	"github.com/eldercircle/eldercircle-billing/internal/subscription"
	"github.com/gin-gonic/gin"
)

// Deps bundles the services behind the front routes.
type Deps struct {
	Subscriptions *subscription.Service
	Accounts      *accounts.Service
	Provider      billing.Provider
	Catalog       *plans.Catalog
	JWT           config.JWTConfig
	RateLimiter   *ratelimit.Manager
}

// RegisterFrontRoutes registers user-facing billing routes and the provider
// webhook.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Subscriptions == nil {
		return
	}

	webhookHandler := handlers.NewWebhookHandler(deps.Provider, deps.Subscriptions)
	r.POST("/billing/webhook", webhookHandler.Receive)

	planHandler := handlers.NewPlanFrontHandler(deps.Catalog)
	r.GET("/billing/plans", planHandler.List)

	authed := r.Group("")
	authed.Use(userAuthMiddleware(deps.JWT))

	limited := authed.Group("")
	limited.Use(ratelimit.Middleware(deps.RateLimiter, func(c *gin.Context, cfg config.RateLimitConfig) ratelimit.Decision {
		return ratelimit.DecisionForAccount(cfg, c.GetString(handlers.AccountIDKey))
	}))

	billingHandler := handlers.NewBillingFrontHandler(deps.Subscriptions)
	authed.GET("/billing/subscription", billingHandler.Subscription)
	limited.POST("/create-checkout-session", billingHandler.Checkout)
	limited.POST("/billing/change-plan", billingHandler.ChangePlan)
	limited.DELETE("/billing/change-plan", billingHandler.CancelPendingChange)
	limited.POST("/billing/cancel", billingHandler.Cancel)
	limited.DELETE("/billing/cancel", billingHandler.Resume)
	limited.POST("/billing/portal", billingHandler.Portal)
	authed.POST("/billing/validate-downgrade", billingHandler.ValidateDowngrade)

	if deps.Accounts != nil {
		accountHandler := handlers.NewAccountFrontHandler(deps.Subscriptions, deps.Accounts)
		limited.POST("/accounts", accountHandler.Signup)
		authed.GET("/accounts/usage", accountHandler.Usage)
		authed.GET("/accounts/members", accountHandler.ListMembers)
		limited.POST("/accounts/members", accountHandler.AddMember)
		limited.DELETE("/accounts/members/:id", accountHandler.RemoveMember)
		authed.GET("/accounts/elders", accountHandler.ListElders)
		limited.POST("/accounts/elders", accountHandler.AddElder)
		limited.DELETE("/accounts/elders/:id", accountHandler.RemoveElder)
		authed.GET("/accounts/storage", accountHandler.ListStorage)
		limited.POST("/accounts/storage", accountHandler.AddStorageObject)
		limited.DELETE("/accounts/storage/:id", accountHandler.RemoveStorageObject)
	}
}

// userAuthMiddleware validates user JWTs and stores the account id.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "empty token"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		c.Set(handlers.AccountIDKey, claims.Subject)
		c.Set(handlers.EmailKey, claims.Email)
		c.Next()
	}
}
