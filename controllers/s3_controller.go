package controllers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"vibin_matcher/services"
	"vibin_matcher/utils"
)

// UploadController hands out presigned URLs for profile pictures
type UploadController struct {
	PictureService *services.ProfilePictureService
	Logger         *zap.Logger
}

func NewUploadController(pictures *services.ProfilePictureService, logger *zap.Logger) *UploadController {
	return &UploadController{PictureService: pictures, Logger: utils.OrNop(logger)}
}

// GeneratePresignedURL handles POST /api/uploads/profile-picture
func (c *UploadController) GeneratePresignedURL(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"userId"`
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	upload, err := c.PictureService.GenerateUploadURL(r.Context(), payload.UserID, payload.FileName, payload.FileType)
	if err != nil {
		fail(w, c.Logger, "Failed to generate pre-signed URL", err)
		return
	}
	c.Logger.Debug("presigned upload issued", zap.String("key", upload.Key))
	writeJSON(w, http.StatusOK, upload)
}

// GetPresignedReadURL handles POST /api/uploads/read-url
func (c *UploadController) GetPresignedReadURL(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Key == "" {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	url, err := c.PictureService.GenerateReadURL(r.Context(), payload.Key)
	if err != nil {
		fail(w, c.Logger, "Failed to generate read pre-signed URL", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
