package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"engiero/internal/api/handlers"
	"engiero/internal/api/middleware"
	"engiero/internal/entry"
	"engiero/internal/storage"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Registry      *entry.Registry
	Storage       storage.Storage
	APIKey        string
	APIKeyHash    string
	AllowedIPs    []string
	EnableIPCheck bool
	Logger        *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.NoiseFilter(config.Logger))
	router.Use(middleware.ContentType())
	if config.EnableIPCheck {
		router.Use(middleware.IPAllowlist(config.AllowedIPs))
	}

	// Health check and metrics (no auth)
	healthHandler := handlers.NewHealthHandler(config.Registry)
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKey(config.APIKey, config.APIKeyHash))
	{
		entriesHandler := handlers.NewEntriesHandler(
			config.Registry,
			config.Storage,
			config.Logger,
		)
		v1.GET("/entries", entriesHandler.ListEntries)
		v1.GET("/entries/:id", entriesHandler.GetEntry)
		v1.GET("/entries/:id/snapshot", entriesHandler.GetSnapshot)
		v1.GET("/entries/:id/sensors", entriesHandler.GetSensors)
		v1.GET("/entries/:id/diagnostics", entriesHandler.GetDiagnostics)
		v1.GET("/entries/:id/cycles", entriesHandler.ListCycles)
		v1.POST("/entries/:id/refresh", entriesHandler.Refresh)
	}

	return router
}
