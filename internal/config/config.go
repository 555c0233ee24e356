// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/edge-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	HTTPPort  int    `kong:"help='Plaintext listen port (overrides config).',env='HTTP_PORT'"`
	HTTPSPort int    `kong:"help='TLS listen port (overrides config).',env='HTTPS_PORT'"`
	CertFile  string `kong:"help='TLS certificate chain path (overrides config).',env='TLS_CERT_FILE'"`
	KeyFile   string `kong:"help='TLS private key path (overrides config).',env='TLS_KEY_FILE'"`
	Upstream  string `kong:"help='Single upstream target host:port (overrides config).',env='UPSTREAM_ADDR'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	TLS      TLSConfig      `toml:"tls"`
	Upstream UpstreamConfig `toml:"upstream"`
	Routes   []RouteConfig  `toml:"routes"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds the two public listener settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	HTTPPort     int             `toml:"http_port"`  // 0 means "use default" (80); TOML cannot distinguish 0 from unset
	HTTPSPort    int             `toml:"https_port"` // 0 means "use default" (443)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting on the TLS listener.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TLSConfig holds the certificate material for the TLS listener.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"` // "1.2" (default) or "1.3"
}

// UpstreamConfig holds backend connection settings and the default
// target set used when no explicit routes are configured.
type UpstreamConfig struct {
	Targets                []string `toml:"targets"`
	Strategy               string   `toml:"strategy"` // round_robin (default) or random
	ConnectTimeoutSeconds  int      `toml:"connect_timeout_seconds"`
	ResponseTimeoutSeconds int      `toml:"response_timeout_seconds"`
	IdleConnections        int      `toml:"idle_connections"`
}

// RouteConfig maps a host/path match to its own target set. Routes are
// matched in file order, first match wins; the implicit catch-all to
// [upstream] targets is appended last.
type RouteConfig struct {
	Host       string   `toml:"host"`
	PathPrefix string   `toml:"path_prefix"`
	Targets    []string `toml:"targets"`
	Strategy   string   `toml:"strategy"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig holds the private health/metrics listener settings.
// The admin endpoints live on their own port so the public listeners
// stay a pure catch-all to the upstream.
type AdminConfig struct {
	Enabled     bool   `toml:"enabled"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPath string `toml:"metrics_path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/edge-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.HTTPPort != 0 {
		c.Server.HTTPPort = cli.HTTPPort
	}
	if cli.HTTPSPort != 0 {
		c.Server.HTTPSPort = cli.HTTPSPort
	}
	if cli.CertFile != "" {
		c.TLS.CertFile = cli.CertFile
	}
	if cli.KeyFile != "" {
		c.TLS.KeyFile = cli.KeyFile
	}
	if cli.Upstream != "" {
		c.Upstream.Targets = []string{cli.Upstream}
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// TLS material: required up front. A TLS listener without a valid
	// pair must fail at startup, not when the first client connects.
	if c.TLS.CertFile == "" {
		return fmt.Errorf("tls.cert_file is required")
	}
	if c.TLS.KeyFile == "" {
		return fmt.Errorf("tls.key_file is required")
	}
	switch c.TLS.MinVersion {
	case "", "1.2", "1.3":
		// valid
	default:
		return fmt.Errorf("tls.min_version must be 1.2 or 1.3; got %q", c.TLS.MinVersion)
	}

	// Upstream targets: at least one, all host:port.
	if len(c.Upstream.Targets) == 0 {
		return fmt.Errorf("upstream.targets is required")
	}
	for _, t := range c.Upstream.Targets {
		if _, _, err := net.SplitHostPort(t); err != nil {
			return fmt.Errorf("upstream.targets entry %q is not host:port: %w", t, err)
		}
	}
	for i, r := range c.Routes {
		if len(r.Targets) == 0 {
			return fmt.Errorf("routes[%d] has no targets", i)
		}
		for _, t := range r.Targets {
			if _, _, err := net.SplitHostPort(t); err != nil {
				return fmt.Errorf("routes[%d] target %q is not host:port: %w", i, t, err)
			}
		}
	}

	// Numeric bounds.
	for name, port := range map[string]int{
		"server.http_port":  c.Server.HTTPPort,
		"server.https_port": c.Server.HTTPSPort,
		"admin.port":        c.Admin.Port,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s must be 0–65535; got %d", name, port)
		}
	}
	if c.Server.HTTPPort == c.Server.HTTPSPort {
		return fmt.Errorf("server.http_port and server.https_port must differ; both are %d", c.Server.HTTPPort)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.connect_timeout_seconds must be non-negative; got %d", c.Upstream.ConnectTimeoutSeconds)
	}
	if c.Upstream.ResponseTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.response_timeout_seconds must be non-negative; got %d", c.Upstream.ResponseTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Admin.Enabled && !strings.HasPrefix(c.Admin.MetricsPath, "/") {
		return fmt.Errorf("admin.metrics_path must start with '/'; got %q", c.Admin.MetricsPath)
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (ports, timeouts), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 80
	}
	if c.Server.HTTPSPort == 0 {
		c.Server.HTTPSPort = 443
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.TLS.MinVersion == "" {
		c.TLS.MinVersion = "1.2"
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}
	if c.Upstream.ResponseTimeoutSeconds == 0 {
		c.Upstream.ResponseTimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9100
	}
	if c.Admin.MetricsPath == "" {
		c.Admin.MetricsPath = "/metrics"
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

// HTTPAddr returns the plaintext listen address as host:port.
func (c *ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// HTTPSAddr returns the TLS listen address as host:port.
func (c *ServerConfig) HTTPSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPSPort)
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the TLS key file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	info, err := os.Stat(c.TLS.KeyFile)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("TLS key file is readable by group/others; consider chmod 600",
			"path", c.TLS.KeyFile,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
