package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"pairchat_server/models"
	"pairchat_server/services"
)

// QueueController handles matchmaking HTTP calls and routes them to the
// partition queue addressed by the request's queue key.
type QueueController struct {
	QueueService *services.QueueService
}

// NewQueueController initializes the queue controller
func NewQueueController(service *services.QueueService) *QueueController {
	return &QueueController{QueueService: service}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation → 400,
// anything upstream → 502 for the client to retry with backoff.
func writeError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Error()})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable, retry later"})
}

// HandleJoin - POST /queue/join and POST /api/match
func (c *QueueController) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req models.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	resp, err := c.QueueService.Join(r.Context(), req)
	if err != nil {
		log.Printf("❌ Join failed for user %s: %v", req.UserID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLeave - POST /queue/leave
func (c *QueueController) HandleLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		QueueKey string `json:"queueKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	resp, err := c.QueueService.Leave(r.Context(), req.QueueKey, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus - GET /queue/status?queueKey=
func (c *QueueController) HandleStatus(w http.ResponseWriter, r *http.Request) {
	queueKey := r.URL.Query().Get("queueKey")
	resp, err := c.QueueService.Status(r.Context(), queueKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHeal - POST /queue/heal (internal)
func (c *QueueController) HandleHeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		QueueKey  string `json:"queueKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	resp, err := c.QueueService.Heal(r.Context(), req.QueueKey, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
