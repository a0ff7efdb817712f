package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Admission("allow")
	m.Delivery("sent")
	m.JobStarted()
	m.JobFinished("completed")
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.Admission("allow")
	m.Admission("allow")
	m.Admission("flood")
	m.JobStarted()
	m.JobStarted()
	m.JobFinished("cancelled")

	if got := testutil.ToFloat64(m.admission.WithLabelValues("allow")); got != 2 {
		t.Fatalf("allow=%v", got)
	}
	if got := testutil.ToFloat64(m.running); got != 1 {
		t.Fatalf("running=%v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("cancelled")); got != 1 {
		t.Fatalf("cancelled=%v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Delivery("sent")

	get := func(h http.Handler, path string) (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		body, _ := io.ReadAll(rec.Result().Body)
		return rec.Code, string(body)
	}

	plain := m.Handler(false)
	if code, body := get(plain, "/metrics"); code != http.StatusOK || !strings.Contains(body, `shotbot_broadcast_deliveries_total{outcome="sent"} 1`) {
		t.Fatalf("metrics code=%d body=%q", code, body)
	}
	if code, body := get(plain, "/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz code=%d body=%q", code, body)
	}
	if code, _ := get(plain, "/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("pprof served while disabled: %d", code)
	}
	if code, _ := get(m.Handler(true), "/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("pprof index code=%d", code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("%q: got %v", in, got)
		}
	}
}
