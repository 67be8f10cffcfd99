package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/tokencache/internal/http/errors"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

// Pinger es un chequeo de dependencia (store, sesiones).
type Pinger func(ctx context.Context) error

// HealthHandler responde 200 si todos los chequeos pasan, 503 si alguno falla.
type HealthHandler struct {
	Checks  map[string]Pinger
	Timeout time.Duration
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for name, ping := range h.Checks {
		if err := ping(ctx); err != nil {
			logger.From(ctx).Warn("health check failed", logger.Component(name), logger.Err(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	w.Header().Set("Cache-Control", "no-store")
	errors.WriteJSON(w, status, resp)
}
