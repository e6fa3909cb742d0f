package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"

	"spa-gateway/internal/assets"
	"spa-gateway/internal/client"
	"spa-gateway/internal/config"
	"spa-gateway/internal/metrics"
	"spa-gateway/internal/model"
	"spa-gateway/internal/route"
	"spa-gateway/internal/service"
)

const (
	entryDoc = "<!doctype html><html><body><div id=\"app\"></div></body></html>"
	appJS    = "import{createApp}from'vue';createApp({}).mount('#app')"

	// unreachableBackend refuses connections.
	unreachableBackend = "http://127.0.0.1:1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(root, backendURL string) *config.Config {
	ws := true
	return &config.Config{
		Server: config.ServerConfig{BodyMaxBytes: 1 << 20},
		Backend: config.BackendConfig{
			BaseURL:         backendURL,
			APIPrefix:       "/api",
			RewritePrefix:   "/api",
			TimeoutMS:       5000,
			IdleConnections: 10,
			MaxConcurrent:   16,
			QueueTimeoutMS:  100,
			BodyMode:        config.BodyModePassthrough,
			WebSocket:       &ws,
		},
		Assets: config.AssetsConfig{
			Root:   root,
			Index:  "index.html",
			Routes: []string{"/", "/typesync-secret", "/eas20", "/aas", "/results", "/results/:id"},
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newTestGateway builds the full handler graph over a temporary SPA bundle.
func newTestGateway(t *testing.T, backendURL string, opts ...func(*config.Config)) *echo.Echo {
	t.Helper()

	root := t.TempDir()
	for name, data := range map[string]string{
		"index.html":         entryDoc,
		"assets/app-1a2b.js": appJS,
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testConfig(root, backendURL)
	for _, opt := range opts {
		opt(cfg)
	}

	logger := testLogger()
	m := metrics.New(cfg.Metrics.Path)

	idx, err := assets.NewIndex(cfg, logger)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	svc, err := service.NewProxyService(client.NewBackendClient(cfg, logger, m), cfg, logger, m)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}

	gateway := NewGatewayHandler(
		route.NewClassifier(cfg.Backend.APIPrefix, idx, cfg.Assets.Routes),
		NewProxyHandler(svc, cfg, logger, m),
		NewAssetHandler(assets.NewServer(cfg), logger),
		logger,
	)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	RegisterRoutes(e, cfg, m, gateway, NewHealthHandler(cfg, "test", idx, svc))
	return e
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorBody {
	t.Helper()
	var body model.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rec.Body.String(), err)
	}
	if body.Details == "" {
		t.Errorf("error body %q has empty details", rec.Body.String())
	}
	return body
}
