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

// UserProfileController handles requests related to user profiles
type UserProfileController struct {
	UserProfileService *services.UserProfileService
	Logger             *zap.Logger
}

// NewUserProfileController creates a new instance of UserProfileController
func NewUserProfileController(userProfileService *services.UserProfileService, logger *zap.Logger) *UserProfileController {
	return &UserProfileController{UserProfileService: userProfileService, Logger: utils.OrNop(logger)}
}

// GetUserProfile handles GET /api/profiles/{userId}
func (c *UserProfileController) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	profile, err := c.UserProfileService.GetProfile(r.Context(), userID)
	if err != nil {
		fail(w, c.Logger, "Failed to fetch profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SaveUserProfile handles PUT /api/profiles/{userId}; the path id wins over the body
func (c *UserProfileController) SaveUserProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	profile.ID = mux.Vars(r)["userId"]

	saved, err := c.UserProfileService.SaveProfile(r.Context(), profile)
	if err != nil {
		fail(w, c.Logger, "Failed to save profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Profile saved successfully",
		"profile": saved,
	})
}

// UpdateUserProfile handles PATCH /api/profiles/{userId}
func (c *UserProfileController) UpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	updated, err := c.UserProfileService.UpdateProfile(r.Context(), userID, updates)
	if err != nil {
		fail(w, c.Logger, "Failed to update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Profile updated successfully",
		"profile": updated,
	})
}

// DeleteUserProfile handles DELETE /api/profiles/{userId}
func (c *UserProfileController) DeleteUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := c.UserProfileService.DeleteProfile(r.Context(), userID); err != nil {
		fail(w, c.Logger, "Failed to delete profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
