package handler

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"edge-proxy-go/internal/metrics"
)

// RedirectHandler answers every request on the plaintext listener with a
// permanent redirect to the HTTPS equivalent. The upstream is never
// contacted from this path.
type RedirectHandler struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRedirectHandler creates a RedirectHandler.
// The metrics parameter is optional; pass nil to disable redirect counting.
func NewRedirectHandler(logger *slog.Logger, m *metrics.Metrics) *RedirectHandler {
	return &RedirectHandler{
		logger:  logger.With("component", "redirect_handler"),
		metrics: m,
	}
}

// Handle responds 301 with Location: https://<host><path+query>.
// Any port suffix on the inbound Host is dropped, since the redirect
// target is the TLS listener on the default port.
func (h *RedirectHandler) Handle(c echo.Context) error {
	req := c.Request()

	uri := req.RequestURI
	if uri == "" {
		uri = req.URL.RequestURI()
	}
	location := "https://" + hostOnly(req.Host) + uri

	if h.metrics != nil {
		h.metrics.RedirectsTotal.Inc()
	}

	return c.Redirect(http.StatusMovedPermanently, location)
}

// hostOnly strips a :port suffix from a Host header value, if present.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
