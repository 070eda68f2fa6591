package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"innervoice/internal/api/errors"
	"innervoice/internal/api/middleware"
	"innervoice/internal/api/v1/dto"
	"innervoice/internal/app/api/provider"
	"innervoice/internal/app/api/whisper_server"
	"innervoice/internal/app/queue"
)

// EventSource is the queue's event log.
type EventSource interface {
	Since(seq int64) []queue.Event
	LastSeq() int64
}

// EventHandler serves incremental reads of the event log.
type EventHandler struct {
	events EventSource
}

// NewEventHandler creates a new event handler
func NewEventHandler(events EventSource) *EventHandler {
	return &EventHandler{events: events}
}

// List returns events after ?since=N.
// GET /api/v1/events
func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventsQuery
	if err := middleware.ValidateQuery(c, &q); err != nil {
		middleware.HandleError(c, err)
		return
	}

	events := h.events.Since(q.Since)
	if events == nil {
		events = []queue.Event{}
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Data: dto.EventsResponse{
		Events:  events,
		LastSeq: h.events.LastSeq(),
	}})
}

// HealthChecker reports backend readiness.
type HealthChecker interface {
	Health(ctx context.Context) (*provider.HealthStatus, error)
}

// GPUChecker exposes the raw accelerator diagnostic of backends that have one.
type GPUChecker interface {
	GPUCheck(ctx context.Context) (*whisper_server.GPUCheck, error)
}

// HealthHandler serves backend diagnostics.
type HealthHandler struct {
	backend string
	health  HealthChecker
	gpu     GPUChecker
	depth   func() int
	timeout time.Duration
}

// NewHealthHandler creates a health handler. gpu may be nil.
func NewHealthHandler(backend string, health HealthChecker, gpu GPUChecker, depth func() int) *HealthHandler {
	if depth == nil {
		depth = func() int { return 0 }
	}
	return &HealthHandler{backend: backend, health: health, gpu: gpu, depth: depth, timeout: 10 * time.Second}
}

// Health queries the backend without forcing a model load.
// GET /api/v1/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := dto.HealthResponse{
		Backend:    h.backend,
		QueueDepth: h.depth(),
		Timestamp:  time.Now().Unix(),
	}

	status, err := h.health.Health(ctx)
	if err != nil {
		_ = c.Error(err)
		resp.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = status.Status
	resp.Model = status.Model
	resp.VRAMUsedMB = status.VRAMUsedMB
	resp.VRAMTotal = status.VRAMTotalMB
	resp.VRAMFreeMB = status.VRAMFreeMB
	c.JSON(http.StatusOK, resp)
}

// GPUCheck returns the backend's raw GPU diagnostic.
// GET /api/v1/gpu-check
func (h *HealthHandler) GPUCheck(c *gin.Context) {
	if h.gpu == nil {
		middleware.HandleError(c, errors.NewNotFoundError("gpu diagnostics for backend "+h.backend))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	check, err := h.gpu.GPUCheck(ctx)
	if err != nil {
		_ = c.Error(err)
		middleware.HandleError(c, errors.NewServiceUnavailableError("GPU diagnostic unavailable"))
		return
	}
	c.JSON(http.StatusOK, check)
}
