package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/target"
)

// MetadataHandler serves read-only schema browsing of the destination
// database.
type MetadataHandler struct {
	connector *target.Connector
	logger    zerolog.Logger
}

func NewMetadataHandler(connector *target.Connector, logger zerolog.Logger) *MetadataHandler {
	return &MetadataHandler{connector: connector, logger: logger}
}

func (h *MetadataHandler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	db, err := h.connector.Connect(r.Context())
	if err != nil {
		http.Error(w, "Failed to connect to target database: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer db.Close()

	schemas, err := target.NewMetadata(db).ListSchemas(r.Context())
	if err != nil {
		http.Error(w, "Failed to list schemas: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(schemas)
}

func (h *MetadataHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	db, err := h.connector.Connect(r.Context())
	if err != nil {
		http.Error(w, "Failed to connect to target database: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer db.Close()

	tables, err := target.NewMetadata(db).ListTables(r.Context(), mux.Vars(r)["schema"])
	if err != nil {
		http.Error(w, "Failed to list tables: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tables)
}

func (h *MetadataHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
	db, err := h.connector.Connect(r.Context())
	if err != nil {
		http.Error(w, "Failed to connect to target database: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer db.Close()

	vars := mux.Vars(r)
	columns, err := target.NewMetadata(db).ListColumns(r.Context(), vars["schema"], vars["table"])
	if err != nil {
		http.Error(w, "Failed to list columns: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(columns)
}
