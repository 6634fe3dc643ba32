package routes

import (
	"vibin_matcher/controllers"
	"vibin_matcher/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RegisterS3Routes sets up profile picture upload routes under /api/uploads
func RegisterS3Routes(r *mux.Router, pictures *services.ProfilePictureService, logger *zap.Logger) {
	controller := controllers.NewUploadController(pictures, logger)
	uploadRouter := r.PathPrefix("/api/uploads").Subrouter()
	uploadRouter.HandleFunc("/profile-picture", controller.GeneratePresignedURL).Methods("POST")
	uploadRouter.HandleFunc("/read-url", controller.GetPresignedReadURL).Methods("POST")
}
