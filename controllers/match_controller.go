package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// MatchController serves a user's matches
type MatchController struct {
	SwipeService *services.SwipeService
	Logger       *zap.Logger
}

func NewMatchController(swipeService *services.SwipeService, logger *zap.Logger) *MatchController {
	return &MatchController{SwipeService: swipeService, Logger: utils.OrNop(logger)}
}

// GetMatches handles GET /api/matches/{userId}
func (c *MatchController) GetMatches(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	matches, err := c.SwipeService.ListMatches(r.Context(), userID)
	if err != nil {
		fail(w, c.Logger, "Failed to fetch matches", err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
