package handlers

import (
	"net/http"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RegisterResponse represents the registration response.
// This is the only response that ever carries the API key.
type RegisterResponse struct {
	AgentID string `json:"agentId"`
	APIKey  string `json:"apiKey"`
	Name    string `json:"name"`
}

// Register handles agent registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	agent, apiKey, err := h.relay.Register(r.Context(), req.Name, req.Description)
	if err != nil {
		h.Fail(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, RegisterResponse{
		AgentID: agent.ID.String(),
		APIKey:  apiKey,
		Name:    agent.Name,
	})
}
