package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/metrics"
	"github.com/eldtechnologies/agentrelay/internal/models"
)

type contextKey string

const AgentContextKey contextKey = "agent"

// APIKeyHeader carries the agent key. Authorization: Bearer is also accepted.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves an API key to an agent.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Agent, error)
}

// AuthMiddleware gates routes behind an agent API key.
type AuthMiddleware struct {
	auth   Authenticator
	logger zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(auth Authenticator, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, logger: logger}
}

// RequireAuth rejects requests without a valid agent key and stores the
// agent in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, err := m.auth.Authenticate(r.Context(), APIKeyFromRequest(r))
		switch {
		case errors.Is(err, models.ErrMissingKey):
			metrics.AuthFailures.WithLabelValues("missing").Inc()
			jsonError(w, http.StatusUnauthorized, "missing api key")
			return
		case errors.Is(err, models.ErrAuth):
			metrics.AuthFailures.WithLabelValues("invalid").Inc()
			m.logger.Warn().
				Str("type", "security").
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("invalid api key")
			jsonError(w, http.StatusForbidden, "invalid api key")
			return
		case err != nil:
			m.logger.Error().Err(err).Msg("authentication lookup failed")
			jsonError(w, http.StatusInternalServerError, "storage error")
			return
		}

		ctx := context.WithValue(r.Context(), AgentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIKeyFromRequest extracts the agent key from the request headers.
func APIKeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("Bearer ") && strings.EqualFold(authz[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	return ""
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.Agent {
	agent, ok := ctx.Value(AgentContextKey).(*models.Agent)
	if !ok {
		return nil
	}
	return agent
}
