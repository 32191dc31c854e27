package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs the /healthz and /readyz probes. Liveness is
// unconditional; readiness flips on only after replay finishes and the
// Postgres and NATS connections are established, so the load balancer never
// routes queries at a settler that is still catching up.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// SetReady flips the readiness gate.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler answers 200 for any running process.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.started).String(),
	})
}

// ReadinessHandler answers 200 once the settler is serving, 503 before.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		writeProbe(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func writeProbe(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
