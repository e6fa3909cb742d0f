// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"spa-gateway/internal/client"
	"spa-gateway/internal/config"
	"spa-gateway/internal/metrics"
	"spa-gateway/internal/model"
)

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handshakeHeaders are generated by the WebSocket dialer itself.
var handshakeHeaders = []string{
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.BackendClient
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL *url.URL

	apiPrefix     string
	rewritePrefix string

	sem          *semaphore.Weighted
	queueTimeout time.Duration
	inFlight     atomic.Int64
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable in-flight tracking.
func NewProxyService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	return &ProxyService{
		client:        c,
		logger:        logger.With("component", "proxy_service"),
		metrics:       m,
		baseURL:       u,
		apiPrefix:     cfg.Backend.APIPrefix,
		rewritePrefix: cfg.Backend.RewritePrefix,
		sem:           semaphore.NewWeighted(int64(cfg.Backend.MaxConcurrent)),
		queueTimeout:  cfg.Backend.QueueTimeout(),
	}, nil
}

// Forward sends a ProxyRequest to the backend and returns the response.
// The caller is responsible for closing the response body; closing it also
// frees the concurrency slot the request holds.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	release, err := s.Acquire(pr.Ctx)
	if err != nil {
		return nil, err
	}

	target := s.TargetURL(pr)
	header := s.filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"target", target.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.String(), header, pr.Body, pr.ContentLength)
	if err != nil {
		release()
		return nil, fmt.Errorf("forward to backend: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// OpenTunnel dials the backend WebSocket endpoint for pr. The returned
// release func frees the concurrency slot and must be called once the
// tunnel is torn down. conn is nil when the backend declined the upgrade; the
// response then carries its answer.
func (s *ProxyService) OpenTunnel(pr *model.ProxyRequest) (conn *websocket.Conn, resp *model.ProxyResponse, release func(), err error) {
	release, err = s.Acquire(pr.Ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	target := s.TargetURL(pr)
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}

	header := s.filterRequestHeaders(pr.Header)
	for _, h := range handshakeHeaders {
		header.Del(h)
	}

	conn, resp, err = s.client.DialWebSocket(pr.Ctx, target.String(), header)
	if err != nil {
		release()
		return nil, nil, nil, fmt.Errorf("dial backend websocket: %w", err)
	}
	resp.Header = filterResponseHeaders(resp.Header)
	if conn == nil {
		resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: release}
		return nil, resp, func() {}, nil
	}
	return conn, resp, release, nil
}

// Acquire takes one backend concurrency slot, waiting at most the configured
// queue timeout. It fails with model.ErrBackpressure when no slot frees up in
// time, or model.ErrClientClosed when ctx ends first.
func (s *ProxyService) Acquire(ctx context.Context) (func(), error) {
	qctx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	if err := s.sem.Acquire(qctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, model.Wrap(model.ErrClientClosed, ctx.Err())
		}
		return nil, model.Wrap(model.ErrBackpressure, err)
	}

	s.inFlight.Add(1)
	if s.metrics != nil {
		s.metrics.BackendInFlight.Inc()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inFlight.Add(-1)
			if s.metrics != nil {
				s.metrics.BackendInFlight.Dec()
			}
			s.sem.Release(1)
		})
	}, nil
}

// InFlight returns the number of requests currently holding a backend slot.
func (s *ProxyService) InFlight() int64 {
	return s.inFlight.Load()
}

// Rewrite maps an inbound API path onto the backend path space by replacing
// the API prefix with the rewrite prefix. Paths outside the API prefix are
// returned unchanged.
func (s *ProxyService) Rewrite(p string) string {
	rest, ok := cutPrefix(p, s.apiPrefix)
	if !ok {
		return p
	}
	out := strings.TrimSuffix(s.rewritePrefix, "/") + rest
	if out == "" {
		return "/"
	}
	return out
}

// TargetURL builds the backend URL for pr: the base URL's path, then the
// rewritten request path. The raw query is kept byte for byte.
func (s *ProxyService) TargetURL(pr *model.ProxyRequest) *url.URL {
	u := *s.baseURL
	base := strings.TrimSuffix(u.Path, "/")
	u.Path = base + s.Rewrite(pr.Path)

	// url.URL falls back to escaping Path when RawPath is not a valid
	// encoding of it.
	u.RawPath = ""
	if pr.RawPath != "" {
		u.RawPath = strings.TrimSuffix(s.baseURL.EscapedPath(), "/") + s.Rewrite(pr.RawPath)
	}

	u.RawQuery = pr.RawQuery
	u.ForceQuery = false
	u.Fragment = ""
	return &u
}

// cutPrefix reports whether p is prefix or lies below it on a segment boundary.
func cutPrefix(p, prefix string) (string, bool) {
	if p == prefix {
		return "", true
	}
	if rest, ok := strings.CutPrefix(p, strings.TrimSuffix(prefix, "/")+"/"); ok {
		return "/" + rest, true
	}
	return "", false
}

// filterRequestHeaders copies src minus connection-scoped headers. Host and
// Content-Length are not carried: the transport derives both.
func (s *ProxyService) filterRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeConnectionHeaders(dst)
	dst.Del("Host")
	dst.Del("Content-Length")
	return dst
}

// filterResponseHeaders drops connection-scoped headers. Content-Length is
// removed too; the handler sets it from the exact body length it writes.
func filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeConnectionHeaders(dst)
	dst.Del("Content-Length")
	return dst
}

// removeConnectionHeaders deletes hop-by-hop headers and any header named in
// a Connection field.
func removeConnectionHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// releaseOnClose frees the concurrency slot once the body is done.
type releaseOnClose struct {
	io.ReadCloser
	release func()
}

func (b *releaseOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
