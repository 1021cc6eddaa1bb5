package app

import (
	"strings"
	"time"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/utils"
)

type Config struct {
	Port                  string
	JWTSecretKey          string
	EnrichTimeout         time.Duration
	EnrichPendingStale    time.Duration
	DefaultReportLanguage string
	AllowedOrigins        []string
	ServiceName           string
	Environment           string
	Version               string
}

func LoadConfig(log *logger.Logger) Config {
	port := utils.GetEnv("PORT", "8080", log)
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	enrichTimeoutSeconds := utils.GetEnvAsInt("ENRICH_TIMEOUT", 120, log)
	enrichPendingStaleSeconds := utils.GetEnvAsInt("ENRICH_PENDING_STALE", 600, log)
	defaultLanguage := utils.GetEnv("DEFAULT_REPORT_LANGUAGE", "en", log)

	var origins []string
	for _, o := range strings.Split(utils.GetEnv("CORS_ALLOWED_ORIGINS", "", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:                  port,
		JWTSecretKey:          jwtSecretKey,
		EnrichTimeout:         time.Duration(enrichTimeoutSeconds) * time.Second,
		EnrichPendingStale:    time.Duration(enrichPendingStaleSeconds) * time.Second,
		DefaultReportLanguage: defaultLanguage,
		AllowedOrigins:        origins,
		ServiceName:           utils.GetEnv("SERVICE_NAME", "pulsenote-backend", log),
		Environment:           utils.GetEnv("ENVIRONMENT", "development", log),
		Version:               utils.GetEnv("SERVICE_VERSION", "", log),
	}
}
