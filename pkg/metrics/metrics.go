// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcclellann/installments/pkg/logging"
)

const namespace = "installments"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	PlansCreated      prometheus.Counter
	PlansReamortized  prometheus.Counter
	PaymentsCompleted prometheus.Counter
	PaymentsCancelled prometheus.Counter
	OverduePayments   prometheus.Gauge
	requestDuration   *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PlansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_created_total",
			Help:      "Installment plans created.",
		}),
		PlansReamortized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_reamortized_total",
			Help:      "Plan edits that regenerated the unpaid schedule.",
		}),
		PaymentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_completed_total",
			Help:      "Monthly payments marked as paid.",
		}),
		PaymentsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_cancelled_total",
			Help:      "Monthly payments reverted to unpaid.",
		}),
		OverduePayments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overdue_payments",
			Help:      "Unpaid payments due before the current month, as of the last scan.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.PlansCreated,
		m.PlansReamortized,
		m.PaymentsCompleted,
		m.PaymentsCancelled,
		m.OverduePayments,
		m.requestDuration,
	)
	return m
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request latency labelled by the matched route template,
// keeping label cardinality independent of IDs in the path.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := logging.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rec.Status)).
			Observe(time.Since(start).Seconds())
	})
}
