package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"spa-gateway/internal/config"
	"spa-gateway/internal/metrics"
	"spa-gateway/internal/model"
	"spa-gateway/internal/payload"
	"spa-gateway/internal/service"
)

// ProxyHandler forwards API requests to the backend.
type ProxyHandler struct {
	service  *service.ProxyService
	logger   *slog.Logger
	metrics  *metrics.Metrics
	bodyMode string
	maxBytes int64
	wsOn     bool
}

// NewProxyHandler creates a ProxyHandler.
// The metrics parameter is optional; pass nil to disable error counting.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service:  svc,
		logger:   logger.With("component", "proxy_handler"),
		metrics:  m,
		bodyMode: cfg.Backend.BodyMode,
		maxBytes: cfg.Server.BodyMaxBytes,
		wsOn:     cfg.Backend.WebSocketEnabled(),
	}
}

// Handle proxies the request to the backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if isUpgrade(req) {
		return h.handleUpgrade(c)
	}

	body, n, err := payload.Prepare(req, h.bodyMode, h.maxBytes)
	if err != nil {
		return h.fail(c, err)
	}

	resp, err := h.service.Forward(&model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawPath:       req.URL.RawPath,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          body,
		ContentLength: n,
	})
	if err != nil {
		return h.fail(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, resp)
	return nil
}

// relay writes the backend response. Content-Length is set only when the
// backend declared one, which is exactly what gets copied; otherwise the
// response is chunked and flushed as it arrives.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse) {
	w := c.Response()
	for key, vals := range resp.Header {
		w.Header()[key] = append([]string(nil), vals...)
	}
	if resp.ContentLength >= 0 {
		w.Header().Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(resp.StatusCode)

	var err error
	if resp.ContentLength < 0 || isEventStream(resp.Header) {
		_, err = copyFlush(w, resp.Body)
	} else {
		_, err = io.Copy(w, resp.Body)
	}

	// The status line is already out, so a mid-stream failure can only
	// truncate the response.
	if err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
}

func (h *ProxyHandler) fail(c echo.Context, err error) error {
	if h.metrics != nil {
		h.metrics.ProxyErrors.WithLabelValues(string(model.AsError(err).Kind)).Inc()
	}
	return writeError(c, h.logger, err)
}

// handleUpgrade tunnels WebSocket upgrades; any other protocol is refused.
func (h *ProxyHandler) handleUpgrade(c echo.Context) error {
	req := c.Request()
	if !h.wsOn || !websocket.IsWebSocketUpgrade(req) {
		return h.fail(c, model.ErrUpgradeUnsupported)
	}

	backend, resp, release, err := h.service.OpenTunnel(&model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     http.NoBody,
	})
	if err != nil {
		return h.fail(c, err)
	}
	if backend == nil {
		defer func() { _ = resp.Body.Close() }()
		h.relay(c, resp)
		return nil
	}
	defer release()
	defer func() { _ = backend.Close() }()

	respHeader := http.Header{}
	if p := resp.Header.Get("Sec-Websocket-Protocol"); p != "" {
		respHeader.Set("Sec-Websocket-Protocol", p)
	}
	for _, v := range resp.Header.Values("Set-Cookie") {
		respHeader.Add("Set-Cookie", v)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin is forwarded; the backend decides.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	client, err := upgrader.Upgrade(c.Response(), req, respHeader)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "err", err, "path", req.URL.Path)
		return nil
	}
	defer func() { _ = client.Close() }()

	start := time.Now()
	errc := make(chan error, 2)
	go func() { errc <- pump(client, backend) }()
	go func() { errc <- pump(backend, client) }()
	err = <-errc

	h.logger.Debug("websocket tunnel closed",
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
		"err", err,
	)
	return nil
}

// pump copies messages from src to dst until src fails. A close frame from
// src is passed on to dst.
func pump(dst, src *websocket.Conn) error {
	for {
		mt, r, err := src.NextReader()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code := ce.Code
				if code == websocket.CloseNoStatusReceived {
					code = websocket.CloseNormalClosure
				}
				_ = dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, ce.Text), time.Now().Add(time.Second))
			}
			return err
		}
		w, err := dst.NextWriter(mt)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, r); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
}

// copyFlush copies src to w, flushing after every write.
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			_ = rc.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// isUpgrade reports whether r asks to switch protocols.
func isUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
				return true
			}
		}
	}
	return false
}

func isEventStream(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get(echo.HeaderContentType))
	return err == nil && mt == "text/event-stream"
}
