package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// Deps carries the cross-cutting pieces the router wires in.
type Deps struct {
	Auth    middleware.TokenValidator
	Limiter *middleware.RateLimiter
	Log     zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", handler.HeaderIdempotencyKey}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(deps.Log))

	// ─── Operational ───────────────────────────────────────────────────
	if handlers.Health != nil {
		router.GET("/health", handlers.Health.Health)
	} else {
		router.GET("/health", func(c *gin.Context) {
			response.Success(c, http.StatusOK, gin.H{"status": "ok"})
		})
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Session Group (JWT + Rate Limit) ───────────────────────────
	sessionAPI := router.Group("/api/v1/session")
	sessionAPI.Use(middleware.RequireUserJWT(deps.Auth), middleware.NoStore())
	if deps.Limiter != nil {
		sessionAPI.Use(deps.Limiter.Middleware())
	}
	{
		// The session payload carries the whole test; compress it.
		sessionAPI.GET("/:test_id", middleware.Brotli(), handlers.Session.GetSession)
		sessionAPI.POST("/:test_id/checkpoint", handlers.Session.SaveCheckpoint)
		sessionAPI.POST("/:test_id/submit", handlers.Session.Submit)
		sessionAPI.GET("/:test_id/result", middleware.Brotli(), handlers.Session.GetResult)
	}

	// ─── 2. WebSocket Group (Query Token Auth) ─────────────────────────
	if handlers.WS != nil {
		ws := router.Group("/ws/v1")
		ws.Use(middleware.RequireWSAuth(deps.Auth))
		{
			ws.GET("/session/:test_id/stream", handlers.WS.SessionStream)
		}
	}

	return router
}
