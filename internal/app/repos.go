package app

import (
	"gorm.io/gorm"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/repos"
)

type Repos struct {
	AnalysisRecord repos.AnalysisRecordRepo
	SignalCache    repos.SignalCacheRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		AnalysisRecord: repos.NewAnalysisRecordRepo(db, log),
		SignalCache:    repos.NewSignalCacheRepo(db, log),
	}
}
