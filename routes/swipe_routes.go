package routes

import (
	"vibin_matcher/controllers"
	"vibin_matcher/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RegisterSwipeRoutes sets up swipe routes under /api/swipes and match routes under /api/matches
func RegisterSwipeRoutes(r *mux.Router, swipeService *services.SwipeService, logger *zap.Logger) {
	swipes := controllers.NewSwipeController(swipeService, logger)
	swipeRouter := r.PathPrefix("/api/swipes").Subrouter()
	swipeRouter.HandleFunc("", swipes.RecordSwipe).Methods("POST")
	swipeRouter.HandleFunc("/{userId}", swipes.ListSwipes).Methods("GET") // ?type=like|dislike|superlike

	matches := controllers.NewMatchController(swipeService, logger)
	matchRouter := r.PathPrefix("/api/matches").Subrouter()
	matchRouter.HandleFunc("/{userId}", matches.GetMatches).Methods("GET")
}
