package app

import (
	"github.com/pulsenote/pulsenote-backend/internal/handlers"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/sse"
)

type Handlers struct {
	Features *handlers.FeaturesHandler
	Record   *handlers.RecordHandler
	Cache    *handlers.CacheHandler
	SSE      *handlers.SSEHandler
}

func wireHandlers(log *logger.Logger, serviceset Services, sseHub *sse.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Features: handlers.NewFeaturesHandler(log),
		Record:   handlers.NewRecordHandler(log, serviceset.Record, serviceset.Enrichment),
		Cache:    handlers.NewCacheHandler(log, serviceset.Cache),
		SSE:      handlers.NewSSEHandler(log, sseHub, serviceset.Record),
	}
}
