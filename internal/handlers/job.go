package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/models"
	"github.com/surveysync/surveysync-api/internal/repository"
)

type JobHandler struct {
	repo   repository.JobRepository
	logger zerolog.Logger
}

func NewJobHandler(repo repository.JobRepository, logger zerolog.Logger) *JobHandler {
	return &JobHandler{repo: repo, logger: logger}
}

func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		models.SyncJobConfig
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := payload.SyncJobConfig.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := payload.Name
	if name == "" {
		name = fmt.Sprintf("sync_%s_to_%s.%s",
			payload.FormID, payload.TargetSchema, payload.TargetTable)
	}
	if len(name) > 200 {
		name = name[:200]
	}

	job := models.SyncJob{
		Name:   name,
		Config: payload.SyncJobConfig,
	}
	created, err := h.repo.Create(&job)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create sync job")
		http.Error(w, "Failed to create sync job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.repo.List()
	if err != nil {
		http.Error(w, "Failed to list sync jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.repo.Get(mux.Vars(r)["jobID"])
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Sync job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get sync job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.repo.GetProgress(mux.Vars(r)["jobID"])
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Sync job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get progress: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(progress)
}

// RunJob re-queues a terminal job for another run. The polling worker picks
// it up; a queued or running job cannot be triggered twice.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.repo.Requeue(jobID); err != nil {
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			http.Error(w, "Sync job not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrJobNotRequeueable):
			http.Error(w, "Sync job is queued or already running", http.StatusConflict)
		default:
			http.Error(w, "Failed to trigger sync job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	job, err := h.repo.Get(jobID)
	if err != nil {
		http.Error(w, "Failed to get sync job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.repo.Cancel(jobID); err != nil {
		switch {
		case errors.Is(err, repository.ErrJobNotFound):
			http.Error(w, "Sync job not found", http.StatusNotFound)
		case errors.Is(err, repository.ErrJobNotCancellable):
			http.Error(w, "Sync job is already in a terminal state", http.StatusConflict)
		default:
			http.Error(w, "Failed to cancel sync job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	job, err := h.repo.Get(jobID)
	if err != nil {
		http.Error(w, "Failed to get sync job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(mux.Vars(r)["jobID"]); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			http.Error(w, "Sync job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete sync job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) ClearTerminalJobs(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.repo.ClearTerminal()
	if err != nil {
		http.Error(w, "Failed to clear terminal jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"deleted": deleted})
}
