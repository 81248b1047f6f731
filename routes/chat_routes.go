package routes

import (
	"pairchat_server/controllers"
	"pairchat_server/services"

	"github.com/gorilla/mux"
)

// RegisterChatRoutes sets up the socket upgrade and session fallbacks
func RegisterChatRoutes(r *mux.Router, sessionService *services.SessionService) {
	controller := controllers.NewChatController(sessionService)

	r.HandleFunc("/chat", controller.HandleSocket).Methods("GET")
	r.HandleFunc("/chat/leave", controller.HandleChatLeave).Methods("POST")
	r.HandleFunc("/init", controller.HandleInit).Methods("POST")
}
