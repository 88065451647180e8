package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent represents a registered chat participant.
// The API key itself is never held here; stores keep only its digest.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"-"`
	LastSeen    time.Time `json:"-"`
}

// AgentSummary is the public view of an agent.
type AgentSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	LastSeen    string `json:"lastSeen"`
}

// Summary returns the public view of the agent.
func (a *Agent) Summary() AgentSummary {
	return AgentSummary{
		ID:          a.ID.String(),
		Name:        a.Name,
		Description: a.Description,
		CreatedAt:   FormatTimestamp(a.CreatedAt),
		LastSeen:    FormatTimestamp(a.LastSeen),
	}
}
