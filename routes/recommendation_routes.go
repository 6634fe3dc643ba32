package routes

import (
	"vibin_matcher/controllers"
	"vibin_matcher/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RegisterRecommendationRoutes sets up routes under /api/recommendations and
// the trigger webhooks under /api/events
func RegisterRecommendationRoutes(r *mux.Router, recs *services.RecommendationService, triggers *services.TriggerService, logger *zap.Logger) {
	controller := controllers.NewRecommendationController(recs, triggers, logger)
	recRouter := r.PathPrefix("/api/recommendations").Subrouter()
	recRouter.HandleFunc("/{userId}", controller.GetRecommendations).Methods("GET")
	recRouter.HandleFunc("/{userId}/status", controller.GetStatus).Methods("GET")
	recRouter.HandleFunc("/{userId}/recompute", controller.Recompute).Methods("POST")
	recRouter.HandleFunc("/{userId}/{recommendationId}", controller.DeleteRecommendation).Methods("DELETE")

	events := controllers.NewEventController(triggers, logger)
	eventRouter := r.PathPrefix("/api/events").Subrouter()
	eventRouter.HandleFunc("/profile-write", events.ProfileWrite).Methods("POST")
	eventRouter.HandleFunc("/recommendation-deleted", events.RecommendationDeleted).Methods("POST")
}
