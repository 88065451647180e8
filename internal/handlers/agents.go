package handlers

import (
	"net/http"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

// AgentsResponse represents the agent directory listing.
type AgentsResponse struct {
	Agents []models.AgentSummary `json:"agents"`
}

// ListAgents handles listing agents, most recently seen first.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.relay.Agents(r.Context())
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, AgentsResponse{Agents: agents})
}
