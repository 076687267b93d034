package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Cycle("soil", true)
	m.Reading("soil", 1)
	m.Transition("soil", true, "threshold")
	m.Command("setColor", "applied")
	m.Publish("aws", nil)
	m.BreakerState("thingsboard", 2)
	m.QueueDepth("aws", func() int { return 0 })

	if m.Registry() != nil {
		t.Error("Registry() on nil Metrics should be nil")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", rec.Code)
	}
}

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.Cycle("soil", true)
	m.Cycle("soil", true)
	m.Cycle("soil", false)
	m.Transition("soil", true, "threshold")
	m.Transition("soil", false, "remote")
	m.Command("", "rejected")
	m.Publish("thingsboard", errors.New("open"))
	m.BreakerState("thingsboard", 2)
	m.Reading("temperature", 23.125)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles ok", testutil.ToFloat64(m.cycles.WithLabelValues("soil", "ok")), 2},
		{"cycles skipped", testutil.ToFloat64(m.cycles.WithLabelValues("soil", "skipped")), 1},
		{"transitions on", testutil.ToFloat64(m.transitions.WithLabelValues("soil", "On", "threshold")), 1},
		{"state gauge", testutil.ToFloat64(m.state.WithLabelValues("soil")), 0},
		{"unknown command", testutil.ToFloat64(m.commands.WithLabelValues("unknown", "rejected")), 1},
		{"publish error", testutil.ToFloat64(m.publishes.WithLabelValues("thingsboard", "error")), 1},
		{"breaker open", testutil.ToFloat64(m.cbState.WithLabelValues("thingsboard")), 2},
		{"reading", testutil.ToFloat64(m.readings.WithLabelValues("temperature")), 23.125},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestQueueDepthAndHandler(t *testing.T) {
	m := New()
	depth := 3
	m.QueueDepth("aws", func() int { return depth })

	rec := httptest.NewRecorder()
	m.WrapHandler("/metrics", m.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `graylogic_edge_broker_queue_depth{broker="aws"} 3`) {
		t.Errorf("exposition missing queue depth:\n%s", body)
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/metrics", "200")); got != 1 {
		t.Errorf("http_requests_total = %v, want 1", got)
	}
}
