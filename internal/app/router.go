package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ecard/internal/config"
	"ecard/internal/handler"
	"ecard/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	PaymentHandler      *handler.PaymentHandler
	GatewayHandler      *handler.GatewayHandler
	ECardHandler        *handler.ECardHandler
	VerificationHandler *handler.VerificationHandler
	AdminHandler        *handler.AdminHandler
	RedisClient         *redis.Client
	NewRelicApp         *newrelic.Application
	Auth                config.AuthConfig
	// Ping reports whether the ledger store is reachable. Optional.
	Ping func(ctx context.Context) error
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.MetricsMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		if deps.Ping != nil {
			if err := deps.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	driver := middleware.RequireRole(middleware.RoleDriver)
	admin := middleware.RequireRole(middleware.RoleAdmin)
	agent := middleware.RequireRole(middleware.RoleAgent)
	system := middleware.RequireRole(middleware.RoleSystem)

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(deps.Auth.JWTSecret, deps.Auth.InternalAPIKey))
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	{
		// Payment routes.
		payments := v1.Group("/payments")
		{
			payments.POST("", driver, deps.PaymentHandler.Initiate)
			payments.GET("/:id", middleware.RequireRole(middleware.RoleDriver, middleware.RoleAdmin), deps.PaymentHandler.GetPayment)
			payments.POST("/:id/refund", admin, deps.PaymentHandler.Refund)
			payments.GET("/:id/events", admin, deps.PaymentHandler.Events)
		}

		// Driver routes.
		drivers := v1.Group("/drivers/:id")
		{
			self := middleware.RequireDriverSelf("id")
			readers := middleware.RequireRole(middleware.RoleDriver, middleware.RoleAdmin)
			drivers.GET("/payments", readers, self, deps.PaymentHandler.ListByDriver)
			drivers.GET("/ecards", readers, self, deps.ECardHandler.ListByDriver)
			drivers.POST("/eligibility", system, deps.ECardHandler.MarkEligible)
		}

		// Payment gateway webhooks.
		gateway := v1.Group("/gateway/payments/:id", system)
		{
			gateway.POST("/confirm", deps.GatewayHandler.Confirm)
			gateway.POST("/fail", deps.GatewayHandler.Fail)
		}

		// E-Card routes.
		ecards := v1.Group("/ecards/:id")
		{
			ecards.GET("", deps.ECardHandler.GetECard)
			ecards.GET("/events", admin, deps.ECardHandler.Events)
			ecards.POST("/activate", admin, deps.ECardHandler.Activate)
			ecards.POST("/suspend", admin, deps.ECardHandler.Suspend)
			ecards.POST("/reinstate", admin, deps.ECardHandler.Reinstate)
			ecards.POST("/revoke", admin, deps.ECardHandler.Revoke)
			ecards.POST("/expire", admin, deps.ECardHandler.Expire)
			ecards.POST("/verify", agent, deps.VerificationHandler.Verify)
			ecards.GET("/crossings", middleware.RequireRole(middleware.RoleAgent, middleware.RoleAdmin), deps.VerificationHandler.ListCrossings)
		}

		v1.POST("/admin/reconcile", admin, deps.AdminHandler.Reconcile)
	}

	return router
}
