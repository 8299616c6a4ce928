package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/surveysync/surveysync-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	job *handlers.JobHandler,
	conn *handlers.ConnectionHandler,
	meta *handlers.MetadataHandler,
	cooldown *handlers.CooldownHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// SurveyCTO connections
	router.HandleFunc("/api/connections", conn.Create).Methods(http.MethodPost)
	router.HandleFunc("/api/connections", conn.List).Methods(http.MethodGet)
	router.HandleFunc("/api/connections/{id}", conn.Get).Methods(http.MethodGet)
	router.HandleFunc("/api/connections/{id}", conn.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/api/connections/{id}/verify", conn.Verify).Methods(http.MethodPost)
	router.HandleFunc("/api/connections/{id}/forms", conn.ListForms).Methods(http.MethodGet)

	// Target database browsing
	router.HandleFunc("/api/target/schemas", meta.ListSchemas).Methods(http.MethodGet)
	router.HandleFunc("/api/target/schemas/{schema}/tables", meta.ListTables).Methods(http.MethodGet)
	router.HandleFunc("/api/target/schemas/{schema}/tables/{table}/columns", meta.ListColumns).Methods(http.MethodGet)

	// Sync jobs and progress
	router.HandleFunc("/api/sync-jobs", job.CreateJob).Methods(http.MethodPost)
	router.HandleFunc("/api/sync-jobs", job.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/sync-jobs", job.ClearTerminalJobs).Methods(http.MethodDelete)
	router.HandleFunc("/api/sync-jobs/{jobID}", job.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/api/sync-jobs/{jobID}", job.DeleteJob).Methods(http.MethodDelete)
	router.HandleFunc("/api/sync-jobs/{jobID}/progress", job.GetProgress).Methods(http.MethodGet)
	router.HandleFunc("/api/sync-jobs/{jobID}/run", job.RunJob).Methods(http.MethodPost)
	router.HandleFunc("/api/sync-jobs/{jobID}/cancel", job.CancelJob).Methods(http.MethodPost)

	// Cooldowns
	router.HandleFunc("/api/cooldowns/{source}", cooldown.Clear).Methods(http.MethodDelete)

	return router
}
