package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/repository"
)

type CooldownHandler struct {
	repo   repository.CooldownRepository
	logger zerolog.Logger
}

func NewCooldownHandler(repo repository.CooldownRepository, logger zerolog.Logger) *CooldownHandler {
	return &CooldownHandler{repo: repo, logger: logger}
}

// Clear removes a source's cooldown so an operator can unblock syncs after
// the server-side quiet period has in fact passed.
func (h *CooldownHandler) Clear(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	if err := h.repo.Clear(source); err != nil {
		http.Error(w, "Failed to clear cooldown: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info().Str("source", source).Msg("cooldown cleared")
	w.WriteHeader(http.StatusNoContent)
}
