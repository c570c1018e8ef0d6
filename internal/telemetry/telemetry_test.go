package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "analysis.text")
	RecordError(span, errors.New("boom"))
	span.End()
	if ctx == nil {
		t.Fatal("expected a context")
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	for rate, want := range map[float64]string{
		1.0: "AlwaysOnSampler",
		0.0: "AlwaysOffSampler",
		2.0: "AlwaysOnSampler",
	} {
		if got := samplerFor(rate).Description(); got != want {
			t.Errorf("samplerFor(%v) = %s, want %s", rate, got, want)
		}
	}
	if got := samplerFor(0.25).Description(); !strings.HasPrefix(got, "TraceIDRatioBased") {
		t.Errorf("unexpected sampler %s", got)
	}
}

func TestObserveAnalysis(t *testing.T) {
	before := testutil.ToFloat64(AnalysesTotal.WithLabelValues("video", "ok"))
	ObserveAnalysis("video", "ok", 2*time.Second)
	after := testutil.ToFloat64(AnalysesTotal.WithLabelValues("video", "ok"))

	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := fiber.New()
	app.Use(MetricsMiddleware())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	app.Get("/metrics", Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `sonicgenius_http_requests_total{method="GET",route="/ping",status="200"}`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}
