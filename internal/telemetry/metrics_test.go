package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestMetrics_ExposedOnHandler(t *testing.T) {
	m := NewMetrics()

	m.ObserveCycle("printed", 2*time.Second)
	m.ObserveCycle("idle", time.Millisecond)
	m.SetQueueDepth(3)
	m.IncRefund("gateway")
	m.IncEnqueue("ok")

	out := scrape(t)
	for _, want := range []string{
		`printq_dispatch_cycles_total{outcome="printed"}`,
		`printq_dispatch_cycles_total{outcome="idle"}`,
		"printq_dispatch_cycle_seconds_count",
		"printq_queue_depth 3",
		`printq_terminations_total{outcome="gateway"}`,
		`printq_enqueue_total{outcome="ok"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()
	NewMetrics()
}
