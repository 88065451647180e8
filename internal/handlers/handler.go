package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/models"
	"github.com/eldtechnologies/agentrelay/internal/relay"
)

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ViewerCounter reports connected live viewers.
type ViewerCounter interface {
	Count() int
}

// Options holds the optional collaborators of a Handler.
type Options struct {
	// Checks are pinged by /health, keyed by the name shown in the response.
	Checks map[string]Pinger
	// Viewers feeds the live viewer count into /api/stats.
	Viewers ViewerCounter
	// Cooldown is advertised in Retry-After when a send is rejected.
	Cooldown time.Duration
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	relay  *relay.Service
	opts   Options
	logger zerolog.Logger
}

// NewHandler creates a new Handler backed by the relay service.
func NewHandler(svc *relay.Service, logger zerolog.Logger, opts Options) *Handler {
	return &Handler{relay: svc, opts: opts, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a relay error onto its HTTP status.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrMissingKey):
		h.Error(w, http.StatusUnauthorized, "missing api key")
	case errors.Is(err, models.ErrAuth):
		h.Error(w, http.StatusForbidden, "invalid api key")
	case errors.Is(err, models.ErrAdmission):
		if h.opts.Cooldown > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.opts.Cooldown.Round(time.Second)/time.Second)))
		}
		h.Error(w, http.StatusTooManyRequests, "rate limit exceeded, wait before sending again")
	default:
		// Driver errors stay in the log.
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "storage error")
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	h.Error(w, http.StatusBadRequest, "invalid JSON body")
	return false
}
