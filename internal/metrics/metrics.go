// Package metrics provides Prometheus instrumentation for the managed-wealth
// services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubscriptionsCreated counts admitted subscriptions by product slug.
	SubscriptionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "managed_subscriptions_created_total",
		Help: "Managed subscriptions created",
	}, []string{"product"})

	// AdmissionRejections counts create requests rejected by code.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "managed_admission_rejections_total",
		Help: "Managed subscription requests rejected at admission",
	}, []string{"code"})

	// Settlements counts settlement mutations by trigger and outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "managed_settlements_total",
		Help: "Settlement mutations by trigger and outcome",
	}, []string{"trigger", "outcome"})

	// GuaranteeTopups sums reserve fund top-ups paid out.
	GuaranteeTopups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "managed_guarantee_topup_usd_total",
		Help: "Reserve fund USD paid out as guarantee top-ups",
	})

	// WorkerCycles counts reconciliation cycles by result.
	WorkerCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "managed_worker_cycles_total",
		Help: "Reconciliation cycles by result",
	}, []string{"result"})

	// WorkerCycleDuration observes cycle wall time.
	WorkerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "managed_worker_cycle_duration_seconds",
		Help:    "Reconciliation cycle duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// WorkerStepItems counts items processed per step and result.
	WorkerStepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "managed_worker_step_items_total",
		Help: "Items handled by each worker step",
	}, []string{"step", "result"})

	// PausedProducts tracks guaranteed products paused for coverage.
	PausedProducts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "managed_paused_products",
		Help: "Guaranteed products paused by reserve coverage control",
	})

	// CoverageRatio tracks reserve coverage per guaranteed product. Products
	// without liability report -1.
	CoverageRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "managed_reserve_coverage_ratio",
		Help: "Reserve coverage ratio per guaranteed product",
	}, []string{"product"})

	// ReserveBalance tracks the last observed reserve fund balance.
	ReserveBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "managed_reserve_fund_balance_usd",
		Help: "Reserve fund balance observed by the worker",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "managed_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "managed_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "managed_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request metrics. The route template is used as the
// path label; unmatched routes are grouped under "unmatched".
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
