// ABOUTME: Liveness and readiness HTTP handlers
// ABOUTME: Readiness runs a caller-supplied check against the store and oracle

package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Error     string    `json:"error,omitempty"`
}

// HealthHandler always reports healthy while the process serves requests.
func HealthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now(), Version: version})
	}
}

// ReadinessHandler reports ready when check succeeds.
func ReadinessHandler(version string, check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{Status: "ready", Timestamp: time.Now(), Version: version}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status.Status = "not_ready"
				status.Error = err.Error()
				writeStatus(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeStatus(w, http.StatusOK, status)
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
