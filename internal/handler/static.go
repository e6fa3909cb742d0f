package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"spa-gateway/internal/assets"
)

// AssetHandler serves files from the SPA bundle.
type AssetHandler struct {
	server *assets.Server
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(s *assets.Server, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		server: s,
		logger: logger.With("component", "asset_handler"),
	}
}

// Serve writes the file named by the request path. Conditional and range
// requests are honored.
func (h *AssetHandler) Serve(c echo.Context) error {
	f, err := h.server.Open(c.Request().URL.Path)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	defer func() { _ = f.Close() }()

	c.Response().Header().Set(echo.HeaderContentType, f.ContentType)
	http.ServeContent(c.Response(), c.Request(), f.Name, f.ModTime, f.File)
	return nil
}

// Fallback writes the SPA entry document with status 200 whatever the path,
// so the client-side router can take over.
func (h *AssetHandler) Fallback(c echo.Context) error {
	f, err := h.server.OpenEntry()
	if err != nil {
		return writeError(c, h.logger, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/html; charset=utf-8")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderContentLength, strconv.Itoa(len(data)))
	c.Response().WriteHeader(http.StatusOK)

	if c.Request().Method == http.MethodHead {
		return nil
	}
	if _, err := c.Response().Write(data); err != nil {
		h.logger.Debug("writing entry document", "err", err)
	}
	return nil
}
