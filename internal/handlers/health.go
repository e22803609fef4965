package handlers

import (
	"net/http"
	"strings"
	"time"

	domain "github.com/karigari/api/internal/domain"
	"github.com/karigari/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	clock  func() time.Time
}

// NewHealthHandlers constructs the probe handlers. A nil system service still
// answers liveness; readiness then reports only process status.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{
		system: system,
		clock:  time.Now,
	}
}

// Healthz answers the liveness probe. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// Readyz answers the readiness probe with the dependency health report.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": domain.HealthStatusError,
			"error":  "health report unavailable",
		})
		return
	}

	status := http.StatusOK
	if strings.EqualFold(report.Status, domain.HealthStatusError) {
		status = http.StatusServiceUnavailable
	}

	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		entry := map[string]any{
			"status":  check.Status,
			"latency": check.Latency.String(),
		}
		if check.Error != "" {
			entry["error"] = check.Error
		}
		checks[name] = entry
	}

	writeJSONResponse(w, status, map[string]any{
		"status":       report.Status,
		"version":      report.Version,
		"commit":       report.CommitSHA,
		"environment":  report.Environment,
		"uptime":       report.Uptime.String(),
		"generated_at": formatTime(report.GeneratedAt),
		"checks":       checks,
	})
}

func (h *HealthHandlers) now() time.Time {
	if h == nil || h.clock == nil {
		return time.Now().UTC()
	}
	return h.clock().UTC()
}
