package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/features"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
)

type FeaturesHandler struct {
	log *logger.Logger
}

func NewFeaturesHandler(log *logger.Logger) *FeaturesHandler {
	return &FeaturesHandler{
		log: log.With("handler", "FeaturesHandler"),
	}
}

// POST /api/features/extract
// Pure computation over the posted samples; no auth, no persistence.
func (h *FeaturesHandler) Extract(c *gin.Context) {
	var req struct {
		SampleRate int       `json:"sampleRate"`
		Samples    []float64 `json:"samples"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}

	result, err := features.Extract(req.SampleRate, req.Samples)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, result)
}
