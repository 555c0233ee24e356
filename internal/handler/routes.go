package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/metrics"
)

// RegisterProxyRoutes wires the catch-all forwarding handler onto the
// TLS-facing Echo instance. There are no local endpoints on this
// listener, so the handler is attached as a terminal middleware rather
// than routes: the router's fixed method table would answer nonstandard
// verbs (PURGE, WebDAV LOCK/MKCOL) with a local 405, but every method
// and path must reach the upstream.
func RegisterProxyRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Use(func(echo.HandlerFunc) echo.HandlerFunc {
		return proxy.Handle
	})
}

// RegisterRedirectRoutes wires the catch-all HTTPS redirect onto the
// plaintext Echo instance. Attached as a terminal middleware for the
// same reason as the proxy handler: any method gets the 301, never a
// router-generated 405.
func RegisterRedirectRoutes(e *echo.Echo, redirect *RedirectHandler) {
	e.Use(func(echo.HandlerFunc) echo.HandlerFunc {
		return redirect.Handle
	})
}

// RegisterAdminRoutes wires health, status and Prometheus endpoints onto
// the private admin Echo instance.
func RegisterAdminRoutes(e *echo.Echo, cfg *config.Config, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)
	e.GET(cfg.Admin.MetricsPath, echo.WrapHandler(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	))
}
