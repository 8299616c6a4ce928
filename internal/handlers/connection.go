package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/models"
	"github.com/surveysync/surveysync-api/internal/repository"
	"github.com/surveysync/surveysync-api/internal/surveycto"
	"github.com/surveysync/surveysync-api/internal/utils"
)

type ConnectionHandler struct {
	repo   repository.ConnectionRepository
	client *surveycto.Client
	logger zerolog.Logger
}

func NewConnectionHandler(repo repository.ConnectionRepository, client *surveycto.Client, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{repo: repo, client: client, logger: logger}
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var conn models.SourceConnection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if conn.Name == "" || conn.ServerURL == "" || conn.Username == "" || conn.Password == "" {
		http.Error(w, "name, server_url, username and password are required", http.StatusBadRequest)
		return
	}

	encrypted, err := utils.EncryptPassword(conn.Password)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encrypt connection password")
		http.Error(w, "Failed to store credentials", http.StatusInternalServerError)
		return
	}
	conn.PasswordEnc = encrypted

	created, err := h.repo.Create(&conn)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create connection")
		http.Error(w, "Failed to create connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	created.Password = "" // never echo the plaintext back

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	connections, err := h.repo.List()
	if err != nil {
		http.Error(w, "Failed to list connections: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for i := range connections {
		connections[i].Password = ""
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(connections)
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	conn, err := h.repo.Get(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	conn.Password = ""
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conn)
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete connection: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Verify checks the stored credentials against the SurveyCTO server and
// records the outcome on the connection.
func (h *ConnectionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	creds, err := h.credentials(w, id)
	if err != nil {
		return
	}

	resp := map[string]string{}
	status := "valid"
	verr := h.client.VerifyCredentials(r.Context(), creds)
	if verr != nil {
		status = "invalid"
		resp["error"] = verr.Error()
	} else {
		resp["status"] = "ok"
	}

	if err := h.repo.UpdateStatus(id, status); err != nil {
		h.logger.Error().Err(err).Str("connection_id", id).Msg("failed to update connection status")
	}

	w.Header().Set("Content-Type", "application/json")
	if verr != nil {
		w.WriteHeader(sourceErrorStatus(verr))
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *ConnectionHandler) ListForms(w http.ResponseWriter, r *http.Request) {
	creds, err := h.credentials(w, mux.Vars(r)["id"])
	if err != nil {
		return
	}

	forms, err := h.client.ListForms(r.Context(), creds)
	if err != nil {
		http.Error(w, err.Error(), sourceErrorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(forms)
}

// credentials loads and decrypts the stored connection; on failure the HTTP
// error has already been written.
func (h *ConnectionHandler) credentials(w http.ResponseWriter, id string) (surveycto.Credentials, error) {
	conn, err := h.repo.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return surveycto.Credentials{}, err
		}
		http.Error(w, "Failed to get connection: "+err.Error(), http.StatusInternalServerError)
		return surveycto.Credentials{}, err
	}

	password, err := utils.DecryptPassword(conn.PasswordEnc)
	if err != nil {
		h.logger.Error().Err(err).Str("connection_id", id).Msg("failed to decrypt credentials")
		http.Error(w, "Failed to decrypt credentials", http.StatusInternalServerError)
		return surveycto.Credentials{}, err
	}

	return surveycto.Credentials{
		ServerURL: conn.ServerURL,
		Username:  conn.Username,
		Password:  password,
	}, nil
}

func sourceErrorStatus(err error) int {
	var (
		authErr *surveycto.AuthError
		rateErr *surveycto.RateLimitError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
