package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"pairchat_server/models"
	"pairchat_server/routes"
	"pairchat_server/services"
	"pairchat_server/storage"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	// Snapshot tiers: DynamoDB + S3, or a single in-process store for
	// local runs without AWS credentials.
	var state storage.StateStore
	var backup storage.BackupStore
	if os.Getenv("STORAGE_BACKEND") == "memory" {
		log.Println("⚠️ Using in-memory storage; snapshots will not survive a restart")
		mem := storage.NewMemoryStore()
		state, backup = mem, mem
	} else {
		log.Println("Initializing DynamoDB client...")
		state = &storage.DynamoStore{Client: storage.InitializeDynamoDBClient()}
		log.Println("DynamoDB client initialized.")
		backup = storage.InitializeS3Store(models.BackupBucketEnv)
	}

	socketBase := os.Getenv("SOCKET_BASE_URL")
	if socketBase == "" {
		socketBase = "ws://localhost:8080"
	}

	// Initialize Services
	queueService := services.NewQueueService(state, backup, models.QueueTTL(), socketBase)
	sessionService := services.NewSessionService(state, backup, models.SessionIdleTimeout())
	queueService.Sessions = sessionService
	sessionService.Queues = queueService
	queueService.StartFlushers(context.Background())

	// Set up the server port
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Using server port: %s\n", port)

	// Initialize the router
	r := mux.NewRouter()

	// Register a welcome route
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Welcome to PairChat")
	}).Methods("GET")

	// Register a health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		response := map[string]string{"status": "healthy"}
		json.NewEncoder(w).Encode(response)
	}).Methods("GET")

	// Register routes
	routes.RegisterQueueRoutes(r, queueService)
	routes.RegisterChatRoutes(r, sessionService)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	})

	// Add CORS middleware
	allowedOrigins := []string{"*"}
	if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
		allowedOrigins = strings.Split(env, ",")
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	// Start the HTTP server
	log.Printf("Starting server on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, corsHandler))
}
