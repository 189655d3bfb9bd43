package api

import (
	"net/http"

	"github.com/evetabi/managedwealth/internal/api/handler"
	"github.com/evetabi/managedwealth/internal/api/middleware"
	"github.com/evetabi/managedwealth/internal/config"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/evetabi/managedwealth/internal/service"
	"github.com/evetabi/managedwealth/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc         *service.AuthService
	SubscriptionSvc *service.SubscriptionService
	WithdrawSvc     *service.WithdrawService
	ReservationSvc  *service.ReservationService
	Hub             *ws.Hub
	Cfg             *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check + metrics ───────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	managedH := handler.NewManagedHandler(deps.SubscriptionSvc, deps.WithdrawSvc, deps.ReservationSvc)

	// ── Middleware (shared) ───────────────────────────────────────────────────
	jwtMW := middleware.WalletJWTMiddleware(deps.AuthSvc)
	publicRL := middleware.RateLimitMiddleware(deps.Cfg.RateLimit.RPS, deps.Cfg.RateLimit.Burst)
	walletRL := middleware.RateLimitMiddleware(deps.Cfg.RateLimit.RPS, deps.Cfg.RateLimit.Burst)

	managed := r.Group("/api/v1/managed")
	{
		// ── Catalog (public) ─────────────────────────────────────────────────
		managed.GET("/products", publicRL, managedH.Products)

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := managed.Group("")
		authed.Use(jwtMW, walletRL)
		{
			authed.GET("/availability", managedH.Availability)

			subs := authed.Group("/subscriptions")
			{
				subs.POST("", managedH.Subscribe)
				subs.GET("", managedH.List)
				subs.GET("/:id", managedH.Detail)
				subs.GET("/:id/nav", managedH.Nav)
				subs.POST("/:id/withdraw", managedH.Withdraw)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := map[string]bool{
				"https://evetabi.com":     true,
				"https://www.evetabi.com": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
