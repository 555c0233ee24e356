package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"edge-proxy-go/internal/client"
	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/handler"
	"edge-proxy-go/internal/metrics"
	"edge-proxy-go/internal/middleware"
	"edge-proxy-go/internal/service"
	"edge-proxy-go/internal/tlsconfig"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("edge-proxy"),
		kong.Description("TLS-terminating edge proxy with HTTPS redirection."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newTLSConfig,
			metrics.New,
			newServers,
			client.NewUpstreamClient,
			service.NewForwardService,
			handler.NewProxyHandler,
			handler.NewRedirectHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(registerRoutes, warnKeyPermissions, startServers),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newTLSConfig loads the certificate material once at startup. A bad or
// missing pair fails the whole fx app before any listener binds.
func newTLSConfig(cfg *config.Config, logger *slog.Logger) (*tls.Config, error) {
	return tlsconfig.Load(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.MinVersion, logger)
}

// servers groups the three Echo instances: the TLS-facing proxy, the
// plaintext redirector and the private admin listener (nil when disabled).
type servers struct {
	proxy    *echo.Echo
	redirect *echo.Echo
	admin    *echo.Echo
}

func newServers(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *servers {
	s := &servers{
		proxy:    newProxyEcho(cfg, logger, m),
		redirect: newRedirectEcho(logger, m),
	}
	if cfg.Admin.Enabled {
		s.admin = newAdminEcho(logger, m)
	}
	return s
}

func newProxyEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running streamed
	// responses. Protection is provided by the upstream response timeout, ReadTimeout,
	// and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger, metrics.ListenerHTTPS))
	e.Use(middleware.MetricsMiddleware(m, metrics.ListenerHTTPS))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newRedirectEcho(logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// The redirector never reads bodies or talks to the upstream; tight
	// timeouts are safe here.
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger, metrics.ListenerHTTP))
	e.Use(middleware.MetricsMiddleware(m, metrics.ListenerHTTP))
	e.Use(middleware.SecurityHeaders())

	return e
}

func newAdminEcho(logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger, metrics.ListenerAdmin))
	e.Use(middleware.SecurityHeaders())

	return e
}

func registerRoutes(s *servers, cfg *config.Config, proxy *handler.ProxyHandler, redirect *handler.RedirectHandler, health *handler.HealthHandler, m *metrics.Metrics) {
	handler.RegisterProxyRoutes(s.proxy, proxy)
	handler.RegisterRedirectRoutes(s.redirect, redirect)
	if s.admin != nil {
		handler.RegisterAdminRoutes(s.admin, cfg, health, m)
	}
}

func warnKeyPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServers(lc fx.Lifecycle, s *servers, cfg *config.Config, tlsCfg *tls.Config, logger *slog.Logger) {
	serve := func(e *echo.Echo, name string) {
		go func() {
			if err := e.Server.Serve(e.Listener); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "listener", name, "err", err)
			}
		}()
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			httpsAddr := cfg.Server.HTTPSAddr()
			ln, err := net.Listen("tcp", httpsAddr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", httpsAddr, err)
			}
			// Handshake failures close the connection below the HTTP
			// layer; clients never see an HTTP-level error for them.
			s.proxy.Listener = tls.NewListener(ln, tlsCfg)
			logger.Info("starting TLS listener", "addr", httpsAddr)
			serve(s.proxy, "https")

			httpAddr := cfg.Server.HTTPAddr()
			ln, err = net.Listen("tcp", httpAddr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", httpAddr, err)
			}
			s.redirect.Listener = ln
			logger.Info("starting redirect listener", "addr", httpAddr)
			serve(s.redirect, "http")

			if s.admin != nil {
				adminAddr := cfg.Admin.Addr()
				ln, err = net.Listen("tcp", adminAddr)
				if err != nil {
					return fmt.Errorf("bind %s: %w", adminAddr, err)
				}
				s.admin.Listener = ln
				logger.Info("starting admin listener", "addr", adminAddr)
				serve(s.admin, "admin")
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down servers")
			var firstErr error
			for _, e := range []*echo.Echo{s.proxy, s.redirect, s.admin} {
				if e == nil {
					continue
				}
				if err := e.Shutdown(ctx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	})
}
