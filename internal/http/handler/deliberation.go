package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/council/common/id"
	"basegraph.app/council/internal/http/dto"
	"basegraph.app/council/internal/service"
)

type DeliberationHandler struct {
	service     service.DeliberationService
	traceHeader string
}

func NewDeliberationHandler(svc service.DeliberationService, traceHeader string) *DeliberationHandler {
	return &DeliberationHandler{
		service:     svc,
		traceHeader: traceHeader,
	}
}

func (h *DeliberationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateDeliberationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid deliberation request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := service.CreateParams{
		Question:        req.Question,
		Participants:    req.Participants,
		ChairmanModelID: req.ChairmanModelID,
	}

	traceID := c.GetHeader(h.traceHeader)
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}
	if traceID != "" {
		params.TraceID = &traceID
	}

	snap, err := h.service.Create(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrOverloaded):
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many deliberations in progress"})
		default:
			slog.ErrorContext(ctx, "failed to create deliberation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create deliberation"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.ToCreateDeliberationResponse(snap))
}

func (h *DeliberationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := id.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deliberation id"})
		return
	}

	snap, err := h.service.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrDeliberationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "deliberation not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to read deliberation", "error", err, "session_id", sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read deliberation"})
		return
	}

	c.JSON(http.StatusOK, dto.ToDeliberationStatusResponse(snap))
}
