package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pulsenote/pulsenote-backend/internal/apierr"
	"github.com/pulsenote/pulsenote-backend/internal/logger"
	"github.com/pulsenote/pulsenote-backend/internal/requestdata"
	"github.com/pulsenote/pulsenote-backend/internal/services"
	"github.com/pulsenote/pulsenote-backend/internal/sse"
)

type SSEHandler struct {
	log           *logger.Logger
	hub           *sse.SSEHub
	recordService services.RecordService
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub, recordService services.RecordService) *SSEHandler {
	return &SSEHandler{
		log:           log.With("handler", "SSEHandler"),
		hub:           hub,
		recordService: recordService,
	}
}

// GET /api/records/:id/events
// Long-lived event stream for one record. Ownership is checked before the
// stream opens; disconnect is the implicit unsubscribe.
func (h *SSEHandler) RecordEvents(c *gin.Context) {
	id, err := recordIDParam(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}

	// NotFound for both missing and non-owned records.
	if _, err := h.recordService.Get(c.Request.Context(), id); err != nil {
		RespondAPIError(c, err)
		return
	}

	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, apierr.CodeUnauthorized, fmt.Errorf("no authenticated caller"))
		return
	}

	client := h.hub.NewSSEClient(rd.UserID)
	h.hub.AddChannel(client, sse.RecordChannel(id))
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
