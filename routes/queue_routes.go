package routes

import (
	"pairchat_server/controllers"
	"pairchat_server/services"

	"github.com/gorilla/mux"
)

// RegisterQueueRoutes sets up matchmaking routes on the partition queues
func RegisterQueueRoutes(r *mux.Router, queueService *services.QueueService) {
	controller := controllers.NewQueueController(queueService)

	r.HandleFunc("/queue/join", controller.HandleJoin).Methods("POST")
	r.HandleFunc("/api/match", controller.HandleJoin).Methods("POST") // legacy client path
	r.HandleFunc("/queue/leave", controller.HandleLeave).Methods("POST")
	r.HandleFunc("/queue/status", controller.HandleStatus).Methods("GET")
	r.HandleFunc("/queue/heal", controller.HandleHeal).Methods("POST")
}
