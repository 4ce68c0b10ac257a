package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/daap14/huddle/internal/api/middleware"
	"github.com/daap14/huddle/internal/api/response"
)

// DBPinger verifies storage connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	pinger  DBPinger
	driver  string
	version string
}

// NewHealthHandler creates a new HealthHandler. pinger may be nil for stores
// without an external connection.
func NewHealthHandler(pinger DBPinger, driver, version string) *HealthHandler {
	return &HealthHandler{
		pinger:  pinger,
		driver:  driver,
		version: version,
	}
}

type storeStatus struct {
	Driver    string `json:"driver"`
	Connected bool   `json:"connected"`
}

type healthData struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Store   storeStatus `json:"store"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	status := "healthy"
	connected := true

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			slog.Warn("health: store ping failed", "error", err)
			status = "degraded"
			connected = false
		}
	}

	data := healthData{
		Status:  status,
		Version: h.version,
		Store: storeStatus{
			Driver:    h.driver,
			Connected: connected,
		},
	}

	response.Success(w, http.StatusOK, data, requestID)
}
