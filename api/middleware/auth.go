package middleware

import (
	"encoding/json"
	"net/http"
)

// Auth gates every endpoint except health and metrics behind a shared bearer
// secret. An empty secret disables the gate (development mode).
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "Bearer "+secret {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error":    "Unauthorized",
					"trace_id": GetTraceID(r.Context()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
