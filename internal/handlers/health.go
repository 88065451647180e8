package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(h.opts.Checks))
	allHealthy := true
	for name, dep := range h.opts.Checks {
		start := time.Now()
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "agentrelay",
		Version: version,
		Endpoints: map[string]string{
			"register": "POST /api/register",
			"send":     "POST /api/messages",
			"read":     "GET /api/messages?room=&since=",
			"readAll":  "GET /api/messages/all?since=",
			"agents":   "GET /api/agents",
			"rooms":    "GET /api/rooms",
			"stats":    "GET /api/stats",
			"live":     "GET /ws",
		},
	})
}
