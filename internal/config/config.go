// Package config handles CLI, environment and TOML configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/spa-gateway/config.toml",
	"configs/config.toml",
}

// DefaultBackendURL is used when neither the config file nor the environment
// names a backend.
const DefaultBackendURL = "http://localhost:8000"

// defaultRoutes is the client-side route table of the bundled SPA.
var defaultRoutes = []string{"/", "/typesync-secret", "/eas20", "/aas", "/results", "/results/:id"}

// Body modes for API request bodies.
const (
	BodyModePassthrough  = "passthrough"
	BodyModeValidate     = "validate"
	BodyModeCanonicalize = "canonicalize"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL string `kong:"help='Backend origin for /api requests (overrides config).',env='BACKEND_URL'"`
	AssetRoot  string `kong:"help='Directory holding the built SPA (overrides config).',env='ASSET_ROOT'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Assets  AssetsConfig  `toml:"assets"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (10000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"` // 0 means one second's worth of requests
}

// BackendConfig describes the proxied backend and how requests reach it.
type BackendConfig struct {
	BaseURL         string `toml:"base_url"`
	APIPrefix       string `toml:"api_prefix"`
	RewritePrefix   string `toml:"rewrite_prefix"`
	TimeoutMS       int    `toml:"timeout_ms"`
	IdleConnections int    `toml:"idle_connections"`
	MaxConcurrent   int    `toml:"max_concurrent"`
	QueueTimeoutMS  int    `toml:"queue_timeout_ms"`
	BodyMode        string `toml:"body_mode"`
	// WebSocket is a pointer so an omitted key keeps the default (enabled).
	WebSocket *bool `toml:"websocket"`
}

// AssetsConfig describes the static SPA bundle.
type AssetsConfig struct {
	Root   string   `toml:"root"`
	Index  string   `toml:"index"`
	Watch  bool     `toml:"watch"`
	Routes []string `toml:"routes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/spa-gateway/config.toml then configs/config.toml, and falls back to
// defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.AssetRoot != "" {
		c.Assets.Root = cli.AssetRoot
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Backend URL: optional, but must be an absolute http(s) origin when set.
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil {
			return fmt.Errorf("backend.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backend.base_url must use http or https; got %q", c.Backend.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("backend.base_url must include a host; got %q", c.Backend.BaseURL)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("backend.base_url must not carry a query or fragment; got %q", c.Backend.BaseURL)
		}
	}

	for name, p := range map[string]string{
		"backend.api_prefix":     c.Backend.APIPrefix,
		"backend.rewrite_prefix": c.Backend.RewritePrefix,
	} {
		if p != "" && p[0] != '/' {
			return fmt.Errorf("%s must start with '/'; got %q", name, p)
		}
	}
	if c.Backend.APIPrefix == "/" {
		return fmt.Errorf("backend.api_prefix must not be '/'; it would shadow every asset")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutMS < 0 {
		return fmt.Errorf("backend.timeout_ms must be non-negative; got %d", c.Backend.TimeoutMS)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Backend.MaxConcurrent < 0 {
		return fmt.Errorf("backend.max_concurrent must be non-negative; got %d", c.Backend.MaxConcurrent)
	}
	if c.Backend.QueueTimeoutMS < 0 {
		return fmt.Errorf("backend.queue_timeout_ms must be non-negative; got %d", c.Backend.QueueTimeoutMS)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit.burst must be non-negative; got %d", c.Server.RateLimit.Burst)
	}

	switch strings.ToLower(c.Backend.BodyMode) {
	case BodyModePassthrough, BodyModeValidate, BodyModeCanonicalize, "":
		// valid
	default:
		return fmt.Errorf("backend.body_mode must be one of: passthrough, validate, canonicalize; got %q", c.Backend.BodyMode)
	}

	if strings.ContainsAny(c.Assets.Index, `/\`) {
		return fmt.Errorf("assets.index must be a file name in the asset root; got %q", c.Assets.Index)
	}
	for _, r := range c.Assets.Routes {
		if r == "" || r[0] != '/' {
			return fmt.Errorf("assets.routes entries must start with '/'; got %q", r)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		apiPrefix := c.Backend.APIPrefix
		if apiPrefix == "" {
			apiPrefix = "/api"
		}
		for _, reserved := range []string{apiPrefix, "/healthz", "/gateway/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendURL
	}
	if c.Backend.APIPrefix == "" {
		c.Backend.APIPrefix = "/api"
	}
	if c.Backend.RewritePrefix == "" {
		c.Backend.RewritePrefix = c.Backend.APIPrefix
	}
	if c.Backend.TimeoutMS == 0 {
		c.Backend.TimeoutMS = 30000
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Backend.MaxConcurrent == 0 {
		c.Backend.MaxConcurrent = 256
	}
	if c.Backend.QueueTimeoutMS == 0 {
		c.Backend.QueueTimeoutMS = 1000
	}
	c.Backend.BodyMode = strings.ToLower(c.Backend.BodyMode)
	if c.Backend.BodyMode == "" {
		c.Backend.BodyMode = BodyModePassthrough
	}
	if c.Backend.WebSocket == nil {
		enabled := true
		c.Backend.WebSocket = &enabled
	}
	if c.Assets.Root == "" {
		c.Assets.Root = "dist"
	}
	if c.Assets.Index == "" {
		c.Assets.Index = "index.html"
	}
	if c.Assets.Routes == nil {
		c.Assets.Routes = append([]string(nil), defaultRoutes...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-request proxy budget.
func (c *BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// QueueTimeout returns how long a request may wait for a backend slot.
func (c *BackendConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutMS) * time.Millisecond
}

// WebSocketEnabled reports whether WebSocket upgrades are tunnelled.
func (c *BackendConfig) WebSocketEnabled() bool {
	return c.WebSocket == nil || *c.WebSocket
}

// FilePath returns the config file that was loaded, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
