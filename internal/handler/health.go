package handler

import (
	"net/http"

	"github.com/tablestakes/platform/internal/infra"
)

// Health reports aggregate service health. Postgres and Redis are both
// critical: either one down means 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"postgres": "up",
		"redis":    "up",
	}
	healthy := true

	if h.pool == nil {
		components["postgres"] = "not configured"
		healthy = false
	} else if err := infra.HealthCheck(r.Context(), h.pool); err != nil {
		components["postgres"] = err.Error()
		healthy = false
	}

	if h.rdb == nil {
		components["redis"] = "not configured"
		healthy = false
	} else if err := infra.RedisHealthCheck(r.Context(), h.rdb); err != nil {
		components["redis"] = err.Error()
		healthy = false
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	RespondJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}
