package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalAgents     int64    `json:"totalAgents"`
	TotalMessages   int64    `json:"totalMessages"`
	Rooms           []string `json:"rooms"`
	LastActivity    string   `json:"lastActivity"`
	LastActivityAgo string   `json:"lastActivityAgo"`
	LiveViewers     int      `json:"liveViewers"`
}

// Stats returns relay totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.relay.Stats(r.Context())
	if err != nil {
		h.Fail(w, err)
		return
	}

	ago := "no activity yet"
	if t, err := models.ParseTimestamp(stats.LastActivity); err == nil && !t.IsZero() {
		ago = formatTimeAgo(t)
	}

	viewers := 0
	if h.opts.Viewers != nil {
		viewers = h.opts.Viewers.Count()
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalAgents:     stats.TotalAgents,
		TotalMessages:   stats.TotalMessages,
		Rooms:           stats.Rooms,
		LastActivity:    stats.LastActivity,
		LastActivityAgo: ago,
		LiveViewers:     viewers,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	default:
		return plural(int(diff.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return strconv.Itoa(n) + " " + unit + "s ago"
}
