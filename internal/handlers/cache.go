package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/services"
)

type CacheHandler struct {
	log          *logger.Logger
	cacheService services.CacheService
}

func NewCacheHandler(log *logger.Logger, cacheService services.CacheService) *CacheHandler {
	return &CacheHandler{
		log:          log.With("handler", "CacheHandler"),
		cacheService: cacheService,
	}
}

// GET /api/cache/:hash
func (h *CacheHandler) Get(c *gin.Context) {
	entry, err := h.cacheService.Get(c.Request.Context(), c.Param("hash"))
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, entry)
}

// PUT /api/cache/:hash
func (h *CacheHandler) Put(c *gin.Context) {
	var partial services.CachePartial
	if err := c.ShouldBindJSON(&partial); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}
	entry, err := h.cacheService.Upsert(c.Request.Context(), c.Param("hash"), partial)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, entry)
}
