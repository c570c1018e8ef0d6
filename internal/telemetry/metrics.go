package telemetry

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonicgenius_analyses_total",
		Help: "Analyses by mode and outcome (ok or the error kind).",
	}, []string{"mode", "outcome"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sonicgenius_analysis_duration_seconds",
		Help:    "End to end analysis latency including the model call.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"mode"})

	ModelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonicgenius_model_requests_total",
		Help: "Requests sent to the generative model by model name and HTTP status.",
	}, []string{"model", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonicgenius_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sonicgenius_jobs_total",
		Help: "Asynchronous analysis jobs by mode and final status.",
	}, []string{"mode", "status"})
)

// ObserveAnalysis records one finished analysis.
func ObserveAnalysis(mode, outcome string, elapsed time.Duration) {
	AnalysesTotal.WithLabelValues(mode, outcome).Inc()
	AnalysisDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// MetricsMiddleware counts HTTP requests by matched route.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		return err
	}
}

// Handler exposes the Prometheus registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
