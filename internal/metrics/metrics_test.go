package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	logAdapter "github.com/bft-labs/digestship/internal/adapters/log"
	"github.com/bft-labs/digestship/internal/domain"
)

type fixedState domain.ConnState

func (s fixedState) ConnState() domain.ConnState { return domain.ConnState(s) }

func TestFeedMetrics_Events(t *testing.T) {
	m := New()
	f := m.Feed("public")

	f.OnEnqueue()
	f.OnEnqueue()
	f.OnFlushSuccess(2, 1, 3*time.Millisecond)
	f.OnFlushError(errors.New("boom"), 2)
	f.OnConnState(domain.ConnConnected)
	f.OnReconnectScheduled(0, time.Second)
	f.OnMessageDiscarded()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"enqueued", testutil.ToFloat64(m.enqueued.WithLabelValues("public")), 2},
		{"inserted", testutil.ToFloat64(m.inserted.WithLabelValues("public")), 1},
		{"flush success", testutil.ToFloat64(m.flushes.WithLabelValues("public", "success")), 1},
		{"flush error", testutil.ToFloat64(m.flushes.WithLabelValues("public", "error")), 1},
		{"connection state", testutil.ToFloat64(m.connState.WithLabelValues("public")), 2},
		{"reconnects", testutil.ToFloat64(m.reconnects.WithLabelValues("public")), 1},
		{"discarded", testutil.ToFloat64(m.discarded.WithLabelValues("public")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.flushDuration); n != 1 {
		t.Errorf("flush duration series = %d, want 1", n)
	}
}

func TestMetrics_TrackPending(t *testing.T) {
	m := New()
	pending := 7
	if err := m.TrackPending("relay", func() int { return pending }); err != nil {
		t.Fatalf("TrackPending() = %v", err)
	}
	if err := m.TrackPending("relay", func() int { return 0 }); err == nil {
		t.Error("registering the same feed twice succeeded")
	}

	body := scrape(t, NewRouter(m, fixedState(domain.ConnConnected)))
	if !strings.Contains(body, `digestship_pending_digests{feed="relay"} 7`) {
		t.Errorf("pending gauge missing from scrape:\n%s", body)
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		state  domain.ConnState
		status int
	}{
		{"healthz connected", "/healthz", domain.ConnConnected, http.StatusOK},
		{"healthz disconnected", "/healthz", domain.ConnDisconnected, http.StatusOK},
		{"readyz connected", "/readyz", domain.ConnConnected, http.StatusOK},
		{"readyz connecting", "/readyz", domain.ConnConnecting, http.StatusServiceUnavailable},
		{"readyz disconnected", "/readyz", domain.ConnDisconnected, http.StatusServiceUnavailable},
		{"unknown path", "/nope", domain.ConnConnected, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(New(), fixedState(tt.state))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.status)
			}
		})
	}
}

func TestServer_StartShutdown(t *testing.T) {
	m := New()
	m.Feed("public").OnEnqueue()

	srv := NewServer("127.0.0.1:0", NewRouter(m, fixedState(domain.ConnConnected)), logAdapter.NoopLogger{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestServer_BindError(t *testing.T) {
	ln := httptest.NewServer(http.NotFoundHandler())
	defer ln.Close()

	srv := NewServer(strings.TrimPrefix(ln.URL, "http://"), http.NotFoundHandler(), logAdapter.NoopLogger{})
	if err := srv.Start(); err == nil {
		t.Error("Start() on a used address = nil error")
		_ = srv.Shutdown(context.Background())
	}
}

func TestScrape_ContainsFeedSeries(t *testing.T) {
	m := New()
	m.Feed("public").OnEnqueue()

	srv := httptest.NewServer(NewRouter(m, fixedState(domain.ConnConnected)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `digestship_enqueued_total{feed="public"} 1`) {
		t.Errorf("scrape lacks enqueued counter:\n%s", body)
	}
}
