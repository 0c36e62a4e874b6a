package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanzas_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanzas_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finanzas_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"route"},
	)

	// Classifications counts classifier results per category
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanzas_classifications_total",
			Help: "Transactions classified, by resulting category",
		},
		[]string{"category"},
	)

	// RulesLoaded reports the size of the in-memory rule set after the last load
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "finanzas_rules_loaded",
			Help: "Classification rules currently loaded",
		},
	)

	// RuleLoadFailures counts load problems (missing file, bad JSON, bad pattern)
	RuleLoadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanzas_rule_load_failures_total",
			Help: "Rule loading problems, by reason",
		},
		[]string{"reason"},
	)

	// ImportedRecords counts import outcomes per record
	ImportedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanzas_import_records_total",
			Help: "Records processed by the import service, by outcome",
		},
		[]string{"source", "outcome"},
	)

	// SyncRecords counts merge outcomes per record
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanzas_sync_records_total",
			Help: "Records processed by sync merges, by outcome",
		},
		[]string{"outcome"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// InstrumentHandler collects Prometheus metrics for the route it wraps
func InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ActiveRequests.WithLabelValues(route).Inc()
		defer ActiveRequests.WithLabelValues(route).Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}
