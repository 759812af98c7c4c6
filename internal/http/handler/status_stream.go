package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/council/common/id"
	"basegraph.app/council/internal/http/dto"
	"basegraph.app/council/internal/service"
)

// StatusStreamHandler pushes status changes of one deliberation as
// server-sent events until it reaches a terminal state.
type StatusStreamHandler struct {
	service      service.DeliberationService
	pollInterval time.Duration
	pingEvery    time.Duration
}

func NewStatusStreamHandler(svc service.DeliberationService, pollInterval time.Duration) *StatusStreamHandler {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &StatusStreamHandler{
		service:      svc,
		pollInterval: pollInterval,
		pingEvery:    25 * time.Second,
	}
}

func (h *StatusStreamHandler) Stream(c *gin.Context) {
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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read deliberation"})
		return
	}

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "status", dto.ToDeliberationStatusResponse(snap))
	flusher.Flush()
	if snap.State.Terminal() {
		return
	}

	last := snap.State
	lastWrite := time.Now()
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err := h.service.Get(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sseWrite(c.Writer, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			if errors.Is(err, service.ErrDeliberationNotFound) {
				return
			}
			continue
		}

		if snap.State != last {
			last = snap.State
			lastWrite = time.Now()
			sseWrite(c.Writer, "status", dto.ToDeliberationStatusResponse(snap))
			flusher.Flush()
			if snap.State.Terminal() {
				return
			}
			continue
		}

		if time.Since(lastWrite) >= h.pingEvery {
			lastWrite = time.Now()
			sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
