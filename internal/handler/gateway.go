package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"spa-gateway/internal/model"
	"spa-gateway/internal/route"
)

// allowKey carries the Allow header value for a 405 response.
const allowKey = "allow_methods"

var (
	apiMethods = map[string]bool{
		http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
		http.MethodPatch: true, http.MethodDelete: true,
		http.MethodHead: true, http.MethodOptions: true,
	}
	readMethods = map[string]bool{http.MethodGet: true, http.MethodHead: true}
)

const (
	apiAllow  = "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS"
	readAllow = "GET, HEAD"
)

// GatewayHandler is the catch-all entry point: it classifies each request
// path once and hands the request to exactly one handler.
type GatewayHandler struct {
	classifier *route.Classifier
	proxy      *ProxyHandler
	assets     *AssetHandler
	logger     *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(cl *route.Classifier, proxy *ProxyHandler, assets *AssetHandler, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		classifier: cl,
		proxy:      proxy,
		assets:     assets,
		logger:     logger.With("component", "gateway"),
	}
}

// Handle classifies the request and dispatches it.
func (h *GatewayHandler) Handle(c echo.Context) error {
	req := c.Request()
	kind := h.classifier.Classify(req.URL.Path)
	c.Set(route.ContextKey, kind)

	allowed, allow := readMethods, readAllow
	if kind == route.API {
		allowed, allow = apiMethods, apiAllow
	}
	if !allowed[req.Method] {
		c.Set(allowKey, allow)
		return writeError(c, h.logger, model.ErrMethodNotAllowed)
	}

	switch kind {
	case route.API:
		return h.proxy.Handle(c)
	case route.Asset:
		return h.assets.Serve(c)
	case route.AssetMiss:
		return writeError(c, h.logger, model.ErrAssetNotFound)
	default:
		return h.assets.Fallback(c)
	}
}
