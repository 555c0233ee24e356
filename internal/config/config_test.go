package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes a TOML config into a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// minimalConfig is a valid config with just the required keys.
const minimalConfig = `
[tls]
cert_file = "/etc/edge-proxy/tls/fullchain.pem"
key_file = "/etc/edge-proxy/tls/privkey.pem"

[upstream]
targets = ["127.0.0.1:8000"]
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
http_port = 8080
https_port = 8443
body_max_bytes = 5242880

[tls]
cert_file = "/tmp/cert.pem"
key_file = "/tmp/key.pem"
min_version = "1.3"

[upstream]
targets = ["127.0.0.1:8000", "127.0.0.1:8001"]
strategy = "round_robin"
connect_timeout_seconds = 5
response_timeout_seconds = 30
idle_connections = 50

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
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Server.HTTPPort = %d, want %d", cfg.Server.HTTPPort, 8080)
	}
	if cfg.Server.HTTPSPort != 8443 {
		t.Errorf("Server.HTTPSPort = %d, want %d", cfg.Server.HTTPSPort, 8443)
	}
	if cfg.TLS.MinVersion != "1.3" {
		t.Errorf("TLS.MinVersion = %q, want %q", cfg.TLS.MinVersion, "1.3")
	}
	if len(cfg.Upstream.Targets) != 2 {
		t.Fatalf("len(Upstream.Targets) = %d, want 2", len(cfg.Upstream.Targets))
	}
	if cfg.Upstream.ResponseTimeoutSeconds != 30 {
		t.Errorf("Upstream.ResponseTimeoutSeconds = %d, want %d", cfg.Upstream.ResponseTimeoutSeconds, 30)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.HTTPPort != 80 {
		t.Errorf("default Server.HTTPPort = %d, want %d", cfg.Server.HTTPPort, 80)
	}
	if cfg.Server.HTTPSPort != 443 {
		t.Errorf("default Server.HTTPSPort = %d, want %d", cfg.Server.HTTPSPort, 443)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.TLS.MinVersion != "1.2" {
		t.Errorf("default TLS.MinVersion = %q, want %q", cfg.TLS.MinVersion, "1.2")
	}
	if cfg.Upstream.ConnectTimeoutSeconds != 10 {
		t.Errorf("default Upstream.ConnectTimeoutSeconds = %d, want %d", cfg.Upstream.ConnectTimeoutSeconds, 10)
	}
	if cfg.Upstream.ResponseTimeoutSeconds != 60 {
		t.Errorf("default Upstream.ResponseTimeoutSeconds = %d, want %d", cfg.Upstream.ResponseTimeoutSeconds, 60)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("default Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Admin.Port != 9100 {
		t.Errorf("default Admin.Port = %d, want %d", cfg.Admin.Port, 9100)
	}
	if cfg.Admin.MetricsPath != "/metrics" {
		t.Errorf("default Admin.MetricsPath = %q, want %q", cfg.Admin.MetricsPath, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_MissingCertFile(t *testing.T) {
	path := writeConfig(t, `
[tls]
key_file = "/tmp/key.pem"

[upstream]
targets = ["127.0.0.1:8000"]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing tls.cert_file, got nil")
	}
	if !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("error = %q, want mention of cert_file", err)
	}
}

func TestLoad_MissingUpstreamTargets(t *testing.T) {
	path := writeConfig(t, `
[tls]
cert_file = "/tmp/cert.pem"
key_file = "/tmp/key.pem"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing upstream.targets, got nil")
	}
}

func TestLoad_BadUpstreamTarget(t *testing.T) {
	path := writeConfig(t, `
[tls]
cert_file = "/tmp/cert.pem"
key_file = "/tmp/key.pem"

[upstream]
targets = ["not-a-hostport"]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for target without port, got nil")
	}
}

func TestLoad_BadTLSMinVersion(t *testing.T) {
	path := writeConfig(t, `
[tls]
cert_file = "/tmp/cert.pem"
key_file = "/tmp/key.pem"
min_version = "1.0"

[upstream]
targets = ["127.0.0.1:8000"]
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for tls.min_version=1.0, got nil")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_SamePorts(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[server]
http_port = 8080
https_port = 8080
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for identical http and https ports, got nil")
	}
}

func TestLoad_NegativePort(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[server]
http_port = -1
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative port, got nil")
	}
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
[tls]
cert_file = "/tmp/cert.pem"
key_file = "/tmp/key.pem"

[upstream]
targets = ["127.0.0.1:8000"]
response_timeout_seconds = -5
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[log]
level = "info"
`)

	cli := &CLI{
		Config:    path,
		HTTPPort:  8080,
		HTTPSPort: 8443,
		Upstream:  "10.0.0.5:9000",
		LogLevel:  "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Server.HTTPPort = %d, want %d (CLI override)", cfg.Server.HTTPPort, 8080)
	}
	if cfg.Server.HTTPSPort != 8443 {
		t.Errorf("Server.HTTPSPort = %d, want %d (CLI override)", cfg.Server.HTTPSPort, 8443)
	}
	if len(cfg.Upstream.Targets) != 1 || cfg.Upstream.Targets[0] != "10.0.0.5:9000" {
		t.Errorf("Upstream.Targets = %v, want [10.0.0.5:9000] (CLI override)", cfg.Upstream.Targets)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Routes(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[[routes]]
host = "api.example.com"
path_prefix = "/v1"
targets = ["127.0.0.1:8001"]
strategy = "random"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("len(Routes) = %d, want 1", len(cfg.Routes))
	}
	r := cfg.Routes[0]
	if r.Host != "api.example.com" || r.PathPrefix != "/v1" || r.Strategy != "random" {
		t.Errorf("Routes[0] = %+v, want host/path_prefix/strategy preserved", r)
	}
}

func TestLoad_RouteWithoutTargets(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[[routes]]
host = "api.example.com"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for route without targets, got nil")
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
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

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestLoad_AdminMetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[admin]
enabled = true
metrics_path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for admin.metrics_path without leading slash, got nil")
	}
}

func TestLoad_AdminDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[admin]
enabled = false
metrics_path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled admin should skip path validation", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "privkey.pem")
	if err := os.WriteFile(keyPath, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{TLS: TLSConfig{KeyFile: keyPath}}
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
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "privkey.pem")
	if err := os.WriteFile(keyPath, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{TLS: TLSConfig{KeyFile: keyPath}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, minimalConfig)
	path2 := writeConfig(t, minimalConfig)

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestServerConfig_Addrs(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", HTTPPort: 8080, HTTPSPort: 8443}
	if got, want := sc.HTTPAddr(), "127.0.0.1:8080"; got != want {
		t.Errorf("HTTPAddr() = %q, want %q", got, want)
	}
	if got, want := sc.HTTPSAddr(), "127.0.0.1:8443"; got != want {
		t.Errorf("HTTPSAddr() = %q, want %q", got, want)
	}
}
