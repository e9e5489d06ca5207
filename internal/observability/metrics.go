// Package observability exposes Prometheus metrics for pipeline runs and the
// HTTP surface.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

const namespace = "polytrend"

// Metrics holds every collector the service exports. Each instance owns its
// registry, so independent instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	RecordsFetched   prometheus.Counter
	RecordsRejected  *prometheus.CounterVec
	TrendEvents      *prometheus.CounterVec
	SnapshotsWritten prometheus.Counter
	RowsSwept        *prometheus.CounterVec
	TopKSize         prometheus.Gauge
	LastSuccess      prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final state and failed stage",
		}, []string{"state", "failed_in"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"state"}),
		RecordsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_fetched_total",
			Help:      "Raw listings received from upstream",
		}),
		RecordsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_rejected_total",
			Help:      "Raw listings dropped by validation, by reason",
		}, []string{"reason"}),
		TrendEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "trend_events_total",
			Help:      "Membership events detected, by kind",
		}, []string{"kind"}),
		SnapshotsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "snapshots_written_total",
			Help:      "History snapshots written",
		}),
		RowsSwept: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "rows_swept_total",
			Help:      "Rows removed by the retention sweeper, by table",
		}, []string{"table"}),
		TopKSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "top_k_size",
			Help:      "Markets in the current top-K generation",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that reached DONE",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveRun records the outcome of one pipeline run.
func (m *Metrics) ObserveRun(res domain.RunResult) {
	failedIn := ""
	if res.State == domain.RunFailed {
		failedIn = string(res.FailedIn)
	}
	m.RunsTotal.WithLabelValues(string(res.State), failedIn).Inc()
	m.RunDuration.WithLabelValues(string(res.State)).Observe(res.Duration().Seconds())
	m.RecordsFetched.Add(float64(res.Fetched))
	for reason, n := range res.Rejected {
		m.RecordsRejected.WithLabelValues(reason).Add(float64(n))
	}
	for _, ev := range res.Events {
		m.TrendEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
	m.SnapshotsWritten.Add(float64(res.SnapshotsWritten))
	m.RowsSwept.WithLabelValues("market_snapshots").Add(float64(res.Sweep.Snapshots))
	m.RowsSwept.WithLabelValues("markets").Add(float64(res.Sweep.StaleMarkets))
	m.RowsSwept.WithLabelValues("trending_events").Add(float64(res.Sweep.Events))

	if res.State == domain.RunDone {
		m.TopKSize.Set(float64(len(res.TopK)))
		m.LastSuccess.Set(float64(res.FinishedAt.Unix()))
	}
}

// ObserveHTTP records one served request. route is the mux pattern, not the
// raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
