package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hohichh/marketplace-orders/internal/platform/httpx"
)

var startTime = time.Now()

// Pinger verifies connectivity to a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	pingers map[string]Pinger
}

// NewHealthHandlers constructs HealthHandlers. Named pingers are checked by
// the readiness probe; liveness never touches dependencies.
func NewHealthHandlers(pingers map[string]Pinger) *HealthHandlers {
	checks := make(map[string]Pinger, len(pingers))
	for name, pinger := range pingers {
		if pinger != nil {
			checks[name] = pinger
		}
	}
	return &HealthHandlers{pingers: checks}
}

// Healthz responds with a simple status payload for monitoring.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz checks every registered dependency and reports the first failure.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for name, pinger := range h.pingers {
		if err := pinger.Ping(ctx); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("not_ready", name+" unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ready"})
}
