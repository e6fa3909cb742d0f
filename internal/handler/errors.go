package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"spa-gateway/internal/model"
)

// writeError logs err and answers with its JSON error body. The wrapped
// cause only goes to the log.
func writeError(c echo.Context, logger *slog.Logger, err error) error {
	e := model.AsError(err)
	req := c.Request()
	status := e.Kind.Status()

	attrs := []any{
		"kind", e.Kind,
		"method", req.Method,
		"path", req.URL.Path,
		"err", err,
	}
	switch {
	case e.Kind == model.KindClientClosed:
		logger.Info("client disconnected", attrs...)
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", attrs...)
	default:
		logger.Debug("request rejected", attrs...)
	}

	if c.Response().Committed {
		return nil
	}
	if e.Kind == model.KindMethodNotAllowed {
		if allow, ok := c.Get(allowKey).(string); ok {
			c.Response().Header().Set(echo.HeaderAllow, allow)
		}
	}
	return c.JSON(status, model.ErrorBody{Error: e.Kind, Details: e.Details})
}

// ErrorHandler renders errors that reach echo itself (middleware rejections,
// recovered panics) in the same JSON shape as handler errors.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			err = fromHTTPError(he)
		}
		_ = writeError(c, logger, err)
	}
}

func fromHTTPError(he *echo.HTTPError) error {
	var sentinel *model.Error
	switch he.Code {
	case http.StatusNotFound:
		sentinel = model.ErrAssetNotFound
	case http.StatusMethodNotAllowed:
		sentinel = model.ErrMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		sentinel = model.ErrBodyTooLarge
	case http.StatusTooManyRequests:
		sentinel = model.ErrRateLimited
	default:
		return he
	}
	return model.Wrap(sentinel, he)
}
