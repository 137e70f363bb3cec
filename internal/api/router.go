package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
	"fed-liquidity/internal/version"
)

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps bundles every dependency needed to build the router.
// Store is optional; without it /health only reports the process is up.
// Repo is optional; without it /api/repo-rates is not mounted.
type RouterDeps struct {
	Query      *service.QueryService
	Repo       *service.RepoService
	Store      Pinger
	Logger     zerolog.Logger
	Production bool
}

// SetupRouter creates the gin engine with CORS, request logging and the read routes.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(requestLogger(deps.Logger))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", healthHandler(deps.Store))

	h := NewLiquidityHandler(deps.Query)
	api := r.Group("/api")
	{
		api.GET("/liquidity", h.List)
		api.GET("/liquidity/summary", h.Summary)
		if deps.Repo != nil {
			api.GET("/repo-rates", NewRepoHandler(deps.Repo).List)
		}
	}

	return r
}

func healthHandler(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			if err := store.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unavailable",
					"version": version.Version,
					"details": storage.Redact(err.Error()),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	}
}

// corsMiddleware opens the read API to any origin. OPTIONS preflights are
// answered with 204 without reaching the handlers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
