// Package client provides the outbound HTTP client for the backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"spa-gateway/internal/config"
	"spa-gateway/internal/metrics"
	"spa-gateway/internal/model"
)

// BackendClient sends requests to the backend origin.
type BackendClient struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		MaxConnsPerHost:     cfg.Backend.MaxConcurrent,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		// No Client.Timeout: it would also cut off long response bodies.
		// DoStream bounds the wait for response headers instead.
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: cfg.Backend.Timeout(),
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}
}

// DoStream sends a request and returns the backend response with its body
// still streaming. The caller must close the returned body.
//
// One budget covers connecting, sending the request and receiving the
// response headers. Reading the body afterwards is not bounded. When ctx is
// canceled (the client went away) the backend request is canceled too.
//
// contentLength is the exact number of bytes body yields; 0 sends no body.
// A mismatch surfaces as model.ErrSerializationFailed before any response.
func (c *BackendClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	var timedOut atomic.Bool
	timer := time.AfterFunc(c.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header = header
	req.ContentLength = contentLength
	if contentLength == 0 {
		req.Body = http.NoBody
		req.GetBody = nil
	}

	c.logger.Debug("backend request",
		"method", method,
		"path", req.URL.Path,
		"content_length", contentLength,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	stopped := timer.Stop()
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(method)
	if c.metrics != nil {
		c.metrics.BackendDuration.WithLabelValues(label).Observe(duration)
	}

	if err == nil && !stopped {
		// The budget ran out just as the headers arrived.
		_ = resp.Body.Close()
		err = context.Canceled
	}
	if err != nil {
		cancel()
		return nil, classify(ctx, timedOut.Load(), err)
	}

	if c.metrics != nil {
		c.metrics.BackendResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ProxyResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// classify maps a transport failure to a gateway error kind.
func classify(parent context.Context, timedOut bool, err error) error {
	var ne net.Error
	switch {
	case timedOut:
		return model.Wrap(model.ErrProxyTimeout, err)
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return model.Wrap(model.ErrProxyTimeout, err)
	case parent.Err() != nil:
		return model.Wrap(model.ErrClientClosed, err)
	// net/http's transferWriter reports a body that disagrees with
	// req.ContentLength as "http: ContentLength=N with Body length M" and
	// exports no sentinel for it. TestBackendClient_DoStream_LengthMismatch
	// pins the wording.
	case strings.Contains(err.Error(), "with Body length"):
		return model.Wrap(model.ErrSerializationFailed, err)
	case errors.As(err, &ne) && ne.Timeout():
		return model.Wrap(model.ErrProxyTimeout, err)
	case isUnreachable(err):
		return model.Wrap(model.ErrProxyUnreachable, err)
	default:
		return model.Wrap(model.ErrProxyBadGateway, err)
	}
}

// isUnreachable reports DNS failures, refused or reset connections and
// other dial errors.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// cancelOnClose releases the request context once the body is done.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
