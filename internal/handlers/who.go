package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Who handles agent profile lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")

	// Validate UUID format
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent ID format")
		return
	}

	agent, err := h.relay.Agent(r.Context(), id)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	h.JSON(w, http.StatusOK, agent.Summary())
}
