package handlers

import (
	"net/http"

	"esence/application/node"
	"esence/pkg/common"
)

// HealthChecker reports liveness and readiness
type HealthChecker interface {
	Health() node.Health
	Ready() bool
}

// HealthResponse is the body of /health and /ready
type HealthResponse struct {
	Status string      `json:"status"`
	Health node.Health `json:"health"`
}

// HealthHandler serves the probe endpoints
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health handles GET /health. The process is alive even when degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.checker.Health()
	status := "healthy"
	if health.Degraded {
		status = "degraded"
	}
	common.RespondRaw(w, http.StatusOK, HealthResponse{Status: status, Health: health})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.checker.Ready() {
		common.RespondRaw(w, http.StatusServiceUnavailable, HealthResponse{Status: "not_ready", Health: h.checker.Health()})
		return
	}
	common.RespondRaw(w, http.StatusOK, HealthResponse{Status: "ready", Health: h.checker.Health()})
}
