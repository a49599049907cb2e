package auth

import (
	"net/http"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/infra"
)

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// It keys on the verified agentId when the request has already passed
// signature verification, and falls back to remote IP otherwise (e.g. for
// the failed-auth-per-IP limiter, which must run before identity exists).
func RateLimitMiddleware(store infra.LimiterStore, policy infra.BackpressurePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if id, err := GetIdentity(r.Context()); err == nil {
				actorID = id.AgentID
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := 60 / policy.RPM
				if retryAfter < 1 {
					retryAfter = 1
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
