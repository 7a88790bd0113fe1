package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
)

// ManualTriggerStore is the slice of the target store the trigger endpoint needs.
type ManualTriggerStore interface {
	RequestManual(ctx context.Context, id string) error
}

// TargetsHandler handles target admin endpoints.
type TargetsHandler struct {
	targets ManualTriggerStore
	log     logger.Logger
}

// NewTargetsHandler creates a new targets handler.
func NewTargetsHandler(targets ManualTriggerStore, log logger.Logger) *TargetsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &TargetsHandler{targets: targets, log: log}
}

// Trigger flags a target for a manual scrape. The scheduler picks it up on
// its next tick, ahead of regular scheduling.
// POST /api/v1/targets/:id/trigger
func (h *TargetsHandler) Trigger(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "target id is required")
		return
	}

	if err := h.targets.RequestManual(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondNotFound(c, "target")
			return
		}
		logger.FromContext(c.Request.Context(), h.log).Error("Failed to request manual scrape", logger.TargetID(id), logger.Error(err))
		respondInternalError(c, "failed to trigger target")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"target_id":   id,
		"last_status": domain.LastStatusManualPending,
	})
}
