package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/scheduler"
)

// StatusProvider exposes the scheduler's last published state.
type StatusProvider interface {
	Status() scheduler.Status
}

// SchedulerStatusResponse is the body of GET /api/v1/scheduler/status.
type SchedulerStatusResponse struct {
	Enabled bool `json:"enabled"`
	scheduler.Status
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SchedulerHandler serves scheduler state and the persisted enable flag.
type SchedulerHandler struct {
	scheduler StatusProvider
	settings  database.SettingsStore
	enabled   bool
	log       logger.Logger
}

// NewSchedulerHandler creates a handler. sched may be nil when the scheduler
// is disabled; enabled is the flag the process started with.
func NewSchedulerHandler(
	sched StatusProvider,
	settings database.SettingsStore,
	enabled bool,
	log logger.Logger,
) *SchedulerHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &SchedulerHandler{
		scheduler: sched,
		settings:  settings,
		enabled:   enabled,
		log:       log,
	}
}

// GetStatus returns the tick loop's last published snapshot.
// GET /api/v1/scheduler/status
func (h *SchedulerHandler) GetStatus(c *gin.Context) {
	resp := SchedulerStatusResponse{Enabled: h.enabled}
	if h.scheduler != nil {
		resp.Status = h.scheduler.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// SetEnabled persists the scheduler flag. It is read at startup, so the
// running process keeps its current mode.
// PUT /api/v1/scheduler/enabled
func (h *SchedulerHandler) SetEnabled(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "body must be {\"enabled\": true|false}")
		return
	}

	if err := h.settings.SetBool(c.Request.Context(), database.SettingSchedulerEnabled, *req.Enabled); err != nil {
		logger.FromContext(c.Request.Context(), h.log).Error("Failed to persist scheduler flag", logger.Error(err))
		respondInternalError(c, "failed to update scheduler flag")
		return
	}

	logger.FromContext(c.Request.Context(), h.log).Info("Scheduler flag updated",
		logger.Bool("enabled", *req.Enabled),
		logger.Bool("running", h.enabled),
	)
	c.JSON(http.StatusOK, gin.H{
		"enabled":          *req.Enabled,
		"restart_required": *req.Enabled != h.enabled,
	})
}
