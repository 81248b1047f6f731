package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"pairchat_server/models"
	"pairchat_server/services"
	"pairchat_server/socket"
)

// ChatController handles socket upgrades and the HTTP fallbacks for
// sessions.
type ChatController struct {
	SessionService *services.SessionService
}

// NewChatController initializes the chat controller
func NewChatController(service *services.SessionService) *ChatController {
	return &ChatController{SessionService: service}
}

// HandleSocket - GET /chat?sessionId=&userId=&userName=&queueKey=
// Upgrades to a WebSocket and attaches it to the session actor.
func (c *ChatController) HandleSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	userID := query.Get("userId")
	userName := query.Get("userName")
	queueKey := query.Get("queueKey")

	if sessionID == "" || userID == "" {
		http.Error(w, `{"error": "sessionId and userId are required"}`, http.StatusBadRequest)
		return
	}

	ws, err := socket.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Socket upgrade failed for session %s: %v", sessionID, err)
		return
	}
	conn := socket.NewConn(ws)

	// Attach runs ensureConfig/heal; on failure it has already closed the
	// socket with the distinguishing code.
	if err := c.SessionService.Attach(context.Background(), sessionID, queueKey, userID, userName, conn); err != nil {
		return
	}
	go socket.Serve(context.Background(), c.SessionService, conn, sessionID, userID)
}

// HandleChatLeave - POST /chat/leave
// Fallback for clients whose socket close event cannot be trusted (e.g.
// during navigation).
func (c *ChatController) HandleChatLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.UserID == "" {
		http.Error(w, `{"error": "Missing required fields: chatId, userId"}`, http.StatusBadRequest)
		return
	}

	c.SessionService.Leave(r.Context(), req.ChatID, req.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleInit - POST /init (internal)
// Queue → session bootstrap call for tier-split deployments; in-process
// pairing calls Bootstrap directly.
func (c *ChatController) HandleInit(w http.ResponseWriter, r *http.Request) {
	var cfg models.SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := c.SessionService.Bootstrap(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "initialized"})
}
