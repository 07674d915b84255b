package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KudcraftsHQ/label-printer-server/internal/api/handlers"
	"github.com/KudcraftsHQ/label-printer-server/internal/api/middleware"
	"github.com/KudcraftsHQ/label-printer-server/internal/metrics"
	"github.com/KudcraftsHQ/label-printer-server/internal/version"
)

type RouterConfig struct {
	Auth      *middleware.AuthMiddleware
	Collector *metrics.Collector
	Log       *zap.Logger
}

// NewRouter assembles the gin engine. Read endpoints stay open; mutating
// endpoints pass through the auth guard, which is a no-op when auth is
// disabled.
func NewRouter(printers *handlers.PrinterHandler, jobs *handlers.JobHandler, cfg RouterConfig) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(cfg.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version.Version,
		})
	})

	if cfg.Collector != nil {
		r.GET("/metrics", gin.WrapH(cfg.Collector.Handler()))
	}

	if cfg.Auth != nil && cfg.Auth.Enabled() {
		r.POST("/auth/login", cfg.Auth.LoginHandler)
	}

	public := r.Group("/")
	protected := r.Group("/")
	if cfg.Auth != nil {
		protected.Use(cfg.Auth.RequireAuth())
	}

	printers.RegisterRoutes(public, protected)
	jobs.RegisterRoutes(public, protected)

	return r
}
