package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pulsenote/pulsenote-backend/internal/handlers"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/middleware"
)

type RouterConfig struct {
	Log             *logger.Logger
	AuthMiddleware  *middleware.AuthMiddleware
	FeaturesHandler *handlers.FeaturesHandler
	RecordHandler   *handlers.RecordHandler
	CacheHandler    *handlers.CacheHandler
	SSEHandler      *handlers.SSEHandler
	AllowedOrigins  []string
	ServiceName     string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Log != nil {
		router.Use(middleware.RequestLogger(cfg.Log))
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pulsenote-backend"
	}
	router.Use(otelgin.Middleware(serviceName))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	api := router.Group("/api")
	{
		api.POST("/features/extract", cfg.FeaturesHandler.Extract)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Records
	protected.POST("/records", cfg.RecordHandler.Create)
	protected.GET("/records", cfg.RecordHandler.List)
	protected.GET("/records/:id", cfg.RecordHandler.Get)
	protected.PATCH("/records/:id", cfg.RecordHandler.Patch)
	protected.DELETE("/records/:id", cfg.RecordHandler.Delete)
	protected.POST("/records/:id/enrich", cfg.RecordHandler.Enrich)
	// SSE
	protected.GET("/records/:id/events", cfg.SSEHandler.RecordEvents)
	// Content cache
	protected.GET("/cache/:hash", cfg.CacheHandler.Get)
	protected.PUT("/cache/:hash", cfg.CacheHandler.Put)

	return router
}
