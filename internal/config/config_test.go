package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[backend]
base_url = "https://api.example.com/v1"
api_prefix = "/api"
rewrite_prefix = "/backend"
timeout_ms = 1500
max_concurrent = 8
body_mode = "validate"
websocket = false

[assets]
root = "/srv/www"
index = "app.html"
watch = true
routes = ["/", "/about"]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Backend.BaseURL != "https://api.example.com/v1" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RewritePrefix != "/backend" {
		t.Errorf("Backend.RewritePrefix = %q, want %q", cfg.Backend.RewritePrefix, "/backend")
	}
	if got := cfg.Backend.Timeout(); got != 1500*time.Millisecond {
		t.Errorf("Backend.Timeout() = %v, want %v", got, 1500*time.Millisecond)
	}
	if cfg.Backend.MaxConcurrent != 8 {
		t.Errorf("Backend.MaxConcurrent = %d, want 8", cfg.Backend.MaxConcurrent)
	}
	if cfg.Backend.BodyMode != BodyModeValidate {
		t.Errorf("Backend.BodyMode = %q, want %q", cfg.Backend.BodyMode, BodyModeValidate)
	}
	if cfg.Backend.WebSocketEnabled() {
		t.Error("Backend.WebSocketEnabled() = true, want false")
	}
	if cfg.Assets.Root != "/srv/www" || cfg.Assets.Index != "app.html" || !cfg.Assets.Watch {
		t.Errorf("Assets = %+v", cfg.Assets)
	}
	if len(cfg.Assets.Routes) != 2 {
		t.Errorf("Assets.Routes = %v, want 2 entries", cfg.Assets.Routes)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 10000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 10000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Backend.BaseURL != DefaultBackendURL {
		t.Errorf("default Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, DefaultBackendURL)
	}
	if cfg.Backend.APIPrefix != "/api" || cfg.Backend.RewritePrefix != "/api" {
		t.Errorf("default prefixes = %q -> %q, want /api -> /api", cfg.Backend.APIPrefix, cfg.Backend.RewritePrefix)
	}
	if got := cfg.Backend.Timeout(); got != 30*time.Second {
		t.Errorf("default Backend.Timeout() = %v, want 30s", got)
	}
	if got := cfg.Backend.QueueTimeout(); got != time.Second {
		t.Errorf("default Backend.QueueTimeout() = %v, want 1s", got)
	}
	if cfg.Backend.MaxConcurrent != 256 {
		t.Errorf("default Backend.MaxConcurrent = %d, want 256", cfg.Backend.MaxConcurrent)
	}
	if cfg.Backend.BodyMode != BodyModePassthrough {
		t.Errorf("default Backend.BodyMode = %q, want %q", cfg.Backend.BodyMode, BodyModePassthrough)
	}
	if !cfg.Backend.WebSocketEnabled() {
		t.Error("default Backend.WebSocketEnabled() = false, want true")
	}
	if cfg.Assets.Root != "dist" || cfg.Assets.Index != "index.html" {
		t.Errorf("default Assets = %+v", cfg.Assets)
	}
	if len(cfg.Assets.Routes) != len(defaultRoutes) {
		t.Errorf("default Assets.Routes = %v, want %v", cfg.Assets.Routes, defaultRoutes)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_RewritePrefixDefaultsToAPIPrefix(t *testing.T) {
	path := writeConfig(t, `
[backend]
api_prefix = "/rest"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.RewritePrefix != "/rest" {
		t.Errorf("Backend.RewritePrefix = %q, want %q", cfg.Backend.RewritePrefix, "/rest")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[backend]
base_url = "http://toml-backend:8000"

[assets]
root = "toml-dist"

[log]
level = "info"
`)

	cli := &CLI{
		Config:     path,
		Host:       "127.0.0.1",
		Port:       3000,
		BackendURL: "http://cli-backend:9000",
		AssetRoot:  "cli-dist",
		LogLevel:   "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Backend.BaseURL != "http://cli-backend:9000" {
		t.Errorf("Backend.BaseURL = %q, want %q (CLI override)", cfg.Backend.BaseURL, "http://cli-backend:9000")
	}
	if cfg.Assets.Root != "cli-dist" {
		t.Errorf("Assets.Root = %q, want %q (CLI override)", cfg.Assets.Root, "cli-dist")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"ftp backend", "[backend]\nbase_url = \"ftp://backend\"\n", "http or https"},
		{"backend without host", "[backend]\nbase_url = \"http://\"\n", "host"},
		{"backend with query", "[backend]\nbase_url = \"http://backend?x=1\"\n", "query"},
		{"relative api prefix", "[backend]\napi_prefix = \"api\"\n", "backend.api_prefix"},
		{"root api prefix", "[backend]\napi_prefix = \"/\"\n", "shadow"},
		{"relative rewrite prefix", "[backend]\nrewrite_prefix = \"api\"\n", "backend.rewrite_prefix"},
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", "[backend]\ntimeout_ms = -5\n", "timeout_ms"},
		{"negative concurrency", "[backend]\nmax_concurrent = -1\n", "max_concurrent"},
		{"negative queue timeout", "[backend]\nqueue_timeout_ms = -1\n", "queue_timeout_ms"},
		{"unknown body mode", "[backend]\nbody_mode = \"rewrite\"\n", "body_mode"},
		{"index with slash", "[assets]\nindex = \"nested/index.html\"\n", "assets.index"},
		{"relative route", "[assets]\nroutes = [\"eas20\"]\n", "assets.routes"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"negative rotation", "[log]\nmax_backups = -1\n", "rotation"},
		{"rate limit zero", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
		{"negative burst", "[server.rate_limit]\nburst = -1\n", "burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_BodyModeCaseInsensitive(t *testing.T) {
	path := writeConfig(t, "[backend]\nbody_mode = \"Canonicalize\"\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BodyMode != BodyModeCanonicalize {
		t.Errorf("Backend.BodyMode = %q, want %q", cfg.Backend.BodyMode, BodyModeCanonicalize)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := filepath.Join(t.TempDir(), "config.toml")
	path2 := filepath.Join(t.TempDir(), "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[server]\nport = 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if got := findConfigInPaths([]string{"/nonexistent/a.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent/a.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", "metrics.path"},
		{"api exact", "[metrics]\nenabled = true\npath = \"/api\"\n", "conflicts"},
		{"api sub", "[metrics]\nenabled = true\npath = \"/api/metrics\"\n", "conflicts"},
		{"custom api prefix", "[backend]\napi_prefix = \"/rest\"\n[metrics]\nenabled = true\npath = \"/rest/m\"\n", "conflicts"},
		{"healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n", "conflicts"},
		{"status", "[metrics]\nenabled = true\npath = \"/gateway/status\"\n", "conflicts"},
		{"valid custom", "[metrics]\nenabled = true\npath = \"/custom-metrics\"\n", ""},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Load() expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
