package routes

import (
	"vibin_matcher/controllers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up the health and welcome routes
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", controllers.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/welcome", controllers.WelcomeHandler).Methods("GET")
	r.HandleFunc("/", controllers.WelcomeHandler).Methods("GET")
}
