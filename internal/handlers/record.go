package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/services"
)

type RecordHandler struct {
	log               *logger.Logger
	recordService     services.RecordService
	enrichmentService services.EnrichmentService
}

func NewRecordHandler(log *logger.Logger, recordService services.RecordService, enrichmentService services.EnrichmentService) *RecordHandler {
	return &RecordHandler{
		log:               log.With("handler", "RecordHandler"),
		recordService:     recordService,
		enrichmentService: enrichmentService,
	}
}

func recordIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record id: %w", err)
	}
	return id, nil
}

// POST /api/records
func (h *RecordHandler) Create(c *gin.Context) {
	var input services.CreateRecordInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}
	view, err := h.recordService.Create(c.Request.Context(), input)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GET /api/records
func (h *RecordHandler) List(c *gin.Context) {
	views, err := h.recordService.List(c.Request.Context())
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"records": views})
}

// GET /api/records/:id
func (h *RecordHandler) Get(c *gin.Context) {
	id, err := recordIDParam(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	view, err := h.recordService.Get(c.Request.Context(), id)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, view)
}

// PATCH /api/records/:id
func (h *RecordHandler) Patch(c *gin.Context) {
	id, err := recordIDParam(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	var patch services.RecordPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}
	view, err := h.recordService.Patch(c.Request.Context(), id, patch)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, view)
}

// DELETE /api/records/:id
func (h *RecordHandler) Delete(c *gin.Context) {
	id, err := recordIDParam(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	if err := h.recordService.Delete(c.Request.Context(), id); err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// POST /api/records/:id/enrich
func (h *RecordHandler) Enrich(c *gin.Context) {
	id, err := recordIDParam(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	// Body is optional: every field has a server-side default.
	var input services.StartEnrichmentInput
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}
	result, err := h.enrichmentService.Start(c.Request.Context(), id, input)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}
