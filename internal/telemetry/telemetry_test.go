package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joelkehle/gamerank/internal/game"
)

func TestMetricsRecordPipelineActivity(t *testing.T) {
	m := NewMetrics()
	m.RunStarted()
	m.ObserveTrendLookup("rawg", "hit", 20*time.Millisecond)
	m.ObserveTrendLookup("rawg", "hit", 30*time.Millisecond)
	m.ObserveEvaluation(game.TypeSocial, "defaulted")
	m.StageCandidates("filtering", 7)
	m.RunFinished("done", time.Minute)

	if got := testutil.ToFloat64(m.trendLookups.WithLabelValues("rawg", "hit")); got != 2 {
		t.Fatalf("expected 2 trend hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.evaluations.WithLabelValues("social", "defaulted")); got != 1 {
		t.Fatalf("expected 1 defaulted evaluation, got %v", got)
	}
	if got := testutil.ToFloat64(m.stageCandidates.WithLabelValues("filtering")); got != 7 {
		t.Fatalf("unexpected stage gauge %v", got)
	}
	if got := testutil.ToFloat64(m.runningIndicator); got != 0 {
		t.Fatalf("running gauge should reset, got %v", got)
	}
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("failed", time.Second)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `gamerank_pipeline_runs_total{state="failed"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}

func TestSetupTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, span := Tracer().Start(context.Background(), "noop-check")
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a recording span from the sdk provider")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
