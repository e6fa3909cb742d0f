package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spa-gateway/internal/config"
	"spa-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Operational endpoints are registered ahead of the catch-all.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, gateway *GatewayHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", gateway.Handle)
}
