package app

import (
	"github.com/gin-gonic/gin"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/server"
)

func wireRouter(log *logger.Logger, cfg Config, handlerset Handlers, middlewareset Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:             log,
		AuthMiddleware:  middlewareset.Auth,
		FeaturesHandler: handlerset.Features,
		RecordHandler:   handlerset.Record,
		CacheHandler:    handlerset.Cache,
		SSEHandler:      handlerset.SSE,
		AllowedOrigins:  cfg.AllowedOrigins,
		ServiceName:     cfg.ServiceName,
	})
}
