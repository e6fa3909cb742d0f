package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"spa-gateway/internal/assets"
	"spa-gateway/internal/config"
	"spa-gateway/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	index   *assets.Index
	proxy   *service.ProxyService
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, idx *assets.Index, svc *service.ProxyService) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, index: idx, proxy: svc}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	BackendURL    string `json:"backend_url"`
	AssetRoot     string `json:"asset_root"`
	IndexedFiles  int    `json:"indexed_files"`
	ProxyInFlight int64  `json:"proxy_in_flight"`
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:        "ok",
		Version:       string(h.version),
		BackendURL:    h.cfg.Backend.BaseURL,
		AssetRoot:     h.index.Root(),
		IndexedFiles:  h.index.Len(),
		ProxyInFlight: h.proxy.InFlight(),
	})
}
