package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/handler"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// limiter may be nil to disable rate limiting.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
	limiter *middleware.RateLimiter,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the access log and every envelope carry it.
	router.Use(response.RequestIDMiddleware(), response.AccessLog(log))

	router.GET("/health", handlers.System.Health)

	// ─── 1. Session Group (Student JWT) ────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireStudentJWT(auth), middleware.Brotli())
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	{
		api.GET("/system/metrics", handlers.System.Metrics)

		sessions := api.Group("/sessions")
		sessions.POST("", handlers.Session.CreateSession)
		sessions.GET("/:id", handlers.Session.GetSession)
		sessions.GET("/:id/exam", handlers.Session.GetExamPaper)
		sessions.DELETE("/:id", handlers.Session.CloseSession)
		sessions.POST("/:id/start", handlers.Session.StartSession)
		sessions.PUT("/:id/answers", handlers.Session.SaveAnswer)
		sessions.POST("/:id/navigate", handlers.Session.Navigate)
		sessions.POST("/:id/submit", handlers.Session.Submit)
		sessions.POST("/:id/submit-anyway", handlers.Session.SubmitAnyway)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(auth))
	{
		ws.GET("/sessions/:id/stream", handlers.WS.SessionStream)
	}

	return router
}
