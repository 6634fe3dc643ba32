package controllers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// EventController accepts document events from an external trigger source,
// for deployments where no change feed runs in-process.
type EventController struct {
	TriggerService *services.TriggerService
	Logger         *zap.Logger
}

func NewEventController(triggers *services.TriggerService, logger *zap.Logger) *EventController {
	return &EventController{TriggerService: triggers, Logger: utils.OrNop(logger)}
}

type profileWriteEvent struct {
	Before *models.UserProfile `json:"before"`
	After  *models.UserProfile `json:"after"`
}

type recommendationDeletedEvent struct {
	UserID           string `json:"userId"`
	RecommendationID string `json:"recommendationId"`
}

// ProfileWrite handles POST /api/events/profile-write
func (c *EventController) ProfileWrite(w http.ResponseWriter, r *http.Request) {
	var event profileWriteEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if event.Before == nil && event.After == nil {
		writeError(w, http.StatusBadRequest, "before or after is required")
		return
	}
	if err := c.TriggerService.OnProfileWrite(r.Context(), event.Before, event.After); err != nil {
		fail(w, c.Logger, "Failed to handle profile write", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processed"})
}

// RecommendationDeleted handles POST /api/events/recommendation-deleted
func (c *EventController) RecommendationDeleted(w http.ResponseWriter, r *http.Request) {
	var event recommendationDeletedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.UserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := c.TriggerService.OnRecommendationDeleted(r.Context(), event.UserID, event.RecommendationID); err != nil {
		fail(w, c.Logger, "Failed to handle recommendation deletion", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "processed"})
}
