package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// SwipeController handles swipe recording and swipe history
type SwipeController struct {
	SwipeService *services.SwipeService
	Logger       *zap.Logger
}

func NewSwipeController(swipeService *services.SwipeService, logger *zap.Logger) *SwipeController {
	return &SwipeController{SwipeService: swipeService, Logger: utils.OrNop(logger)}
}

// swipeResponse separates "no match" from a failed request: a failure never
// produces a 200.
type swipeResponse struct {
	Matched bool                `json:"matched"`
	Match   *models.UserProfile `json:"match"`
}

// RecordSwipe handles POST /api/swipes
func (c *SwipeController) RecordSwipe(w http.ResponseWriter, r *http.Request) {
	var swipe models.Swipe
	if err := json.NewDecoder(r.Body).Decode(&swipe); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	matched, err := c.SwipeService.RecordSwipe(r.Context(), swipe)
	if err != nil {
		fail(w, c.Logger, "Failed to record swipe", err)
		return
	}
	writeJSON(w, http.StatusOK, swipeResponse{Matched: matched != nil, Match: matched})
}

// ListSwipes handles GET /api/swipes/{userId}?type=like
func (c *SwipeController) ListSwipes(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	swipeType := r.URL.Query().Get("type")
	if swipeType == "" {
		swipeType = models.SwipeTypeLike
	}

	swipes, err := c.SwipeService.ListSwipes(r.Context(), userID, swipeType)
	if err != nil {
		fail(w, c.Logger, "Failed to fetch swipes", err)
		return
	}
	writeJSON(w, http.StatusOK, swipes)
}
