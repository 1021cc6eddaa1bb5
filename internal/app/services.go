package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/services"
	"github.com/pulsenote/pulsenote-backend/internal/sse"
)

type Services struct {
	Auth       services.AuthService
	Notifier   services.RecordNotifier
	Cache      services.CacheService
	Record     services.RecordService
	Enrichment services.EnrichmentService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, sseHub *sse.SSEHub, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	authService, err := services.NewAuthService(log, cfg.JWTSecretKey)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	notifier := services.NewRecordNotifier(log, sseHub, clients.SSEBus)
	cacheService := services.NewCacheService(db, log, reposet.SignalCache)

	recordService := services.NewRecordService(
		db, log,
		reposet.AnalysisRecord,
		cacheService,
		notifier,
		sseHub,
		clients.GcpBucket,
	)

	enrichmentService := services.NewEnrichmentService(
		db, log,
		reposet.AnalysisRecord,
		cacheService,
		clients.DSPClient,
		clients.OpenaiClient,
		notifier,
		cfg.EnrichTimeout,
		cfg.EnrichPendingStale,
		cfg.DefaultReportLanguage,
	)

	return Services{
		Auth:       authService,
		Notifier:   notifier,
		Cache:      cacheService,
		Record:     recordService,
		Enrichment: enrichmentService,
	}, nil
}
