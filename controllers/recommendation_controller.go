package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// RecommendationController serves and refreshes a user's recommendations
type RecommendationController struct {
	RecommendationService *services.RecommendationService
	TriggerService        *services.TriggerService
	Logger                *zap.Logger
}

func NewRecommendationController(recs *services.RecommendationService, triggers *services.TriggerService, logger *zap.Logger) *RecommendationController {
	return &RecommendationController{RecommendationService: recs, TriggerService: triggers, Logger: utils.OrNop(logger)}
}

// GetRecommendations handles GET /api/recommendations/{userId}
func (c *RecommendationController) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	recs, err := c.RecommendationService.ListRecommendations(r.Context(), userID)
	if err != nil {
		fail(w, c.Logger, "Failed to fetch recommendations", err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetStatus handles GET /api/recommendations/{userId}/status
func (c *RecommendationController) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	status, err := c.RecommendationService.Status(r.Context(), userID)
	if err != nil {
		fail(w, c.Logger, "Failed to fetch recommendation status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// DeleteRecommendation handles DELETE /api/recommendations/{userId}/{recommendationId}.
// The refill, if any, is driven by the change feed.
func (c *RecommendationController) DeleteRecommendation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := c.RecommendationService.DeleteRecommendation(r.Context(), vars["userId"], vars["recommendationId"]); err != nil {
		fail(w, c.Logger, "Failed to delete recommendation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recompute handles POST /api/recommendations/{userId}/recompute
func (c *RecommendationController) Recompute(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	recs, err := c.TriggerService.RecomputeForUser(r.Context(), userID)
	if err != nil {
		fail(w, c.Logger, "Failed to recompute recommendations", err)
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}
