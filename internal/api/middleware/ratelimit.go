package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/metrics"
	"github.com/eldtechnologies/agentrelay/internal/ratelimit"
)

// ThrottleByIP admits one request per client address per limiter window.
// It guards unauthenticated writes such as registration, where there is no
// agent id to key on. Run it after chi's RealIP so proxies are honoured.
func ThrottleByIP(limiter ratelimit.Limiter, scope string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			ok, err := limiter.Admit(r.Context(), ip)
			if err != nil {
				// A limiter outage should not lock out new agents.
				logger.Error().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.RateLimitHits.WithLabelValues(scope).Inc()
				logger.Warn().
					Str("type", "security").
					Str("scope", scope).
					Str("ip", ip).
					Msg("rate limit exceeded")

				w.Header().Set("Retry-After", retryAfterSeconds(limiter.Cooldown()))
				jsonError(w, http.StatusTooManyRequests, "too many requests, wait before trying again")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
