package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/dggs-query/internal/core/health"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestRoutes(t *testing.T) {
	metrics.ObserveRewrite("bbox", metrics.RewriteApplied)
	h := Routes(slog.New(slog.DiscardHandler), metrics.Init(metrics.Config{}).Handler(),
		map[string]health.Checker{"redis": pinger{err: errors.New("down")}})

	cases := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusServiceUnavailable, `"redis":"down"`},
		{"/metrics", http.StatusOK, "dggs_filter_rewrites_total"},
		{"/query", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s: status=%d want %d", tc.path, rr.Code, tc.status)
		}
		if !strings.Contains(rr.Body.String(), tc.contains) {
			t.Fatalf("%s: body %q lacks %q", tc.path, rr.Body.String(), tc.contains)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id", tc.path)
		}
	}
}
