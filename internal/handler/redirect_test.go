package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestRedirectHandler() *RedirectHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRedirectHandler(logger, nil)
}

func TestRedirectHandler_Handle(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		host         string
		target       string
		wantLocation string
	}{
		{"root", http.MethodGet, "example.com", "/", "https://example.com/"},
		{"path", http.MethodGet, "example.com", "/a/b", "https://example.com/a/b"},
		{"query preserved", http.MethodGet, "example.com", "/a?x=1&y=2", "https://example.com/a?x=1&y=2"},
		{"port stripped", http.MethodGet, "example.com:8080", "/a", "https://example.com/a"},
		{"POST redirected too", http.MethodPost, "example.com", "/submit", "https://example.com/submit"},
		{"DELETE redirected too", http.MethodDelete, "example.com", "/x", "https://example.com/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, tt.target, http.NoBody)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := newTestRedirectHandler()
			if err := h.Handle(c); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if rec.Code != http.StatusMovedPermanently {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusMovedPermanently)
			}
			if got := rec.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}

func TestRedirectHandler_NeverContactsUpstream(t *testing.T) {
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	e := echo.New()
	RegisterRedirectRoutes(e, newTestRedirectHandler())

	for _, path := range []string{"/", "/api/users", "/deep/path?q=1"} {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		req.Host = "example.com"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusMovedPermanently {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusMovedPermanently)
		}
	}

	if n := calls.Load(); n != 0 {
		t.Errorf("upstream invocations = %d, want 0", n)
	}
}
