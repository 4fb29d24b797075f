/*
metrics.go - Prometheus collectors for the ledgers

PURPOSE:
  Counts every recorded action by ledger kind, action and result, and
  counts uniqueness races that were resolved into AlreadyInState. Also
  instruments HTTP handlers with request counts and latencies.

SEE ALSO:
  - generic/observer.go: Observer hook this type implements
  - api/server.go: /metrics endpoint
*/
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/tour-ledger/generic"
)

const namespace = "ledger"

type Metrics struct {
	Actions   *prometheus.CounterVec
	Recovered *prometheus.CounterVec
	Failures  *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

var _ generic.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Recorded actions by ledger kind, action and result.",
		}, []string{"kind", "action", "result"}),
		Recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_recovered_total",
			Help:      "Concurrent activations reclassified as AlreadyInState.",
		}, []string{"kind"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Actions that ended in a Failed result.",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.Actions, m.Recovered, m.Failures, m.HTTPRequests, m.HTTPDuration)
	return m
}

func (m *Metrics) Observe(_ context.Context, scope generic.Scope, out generic.Outcome) {
	kind := string(scope.Kind)
	m.Actions.WithLabelValues(kind, string(out.Action), string(out.Result)).Inc()
	if out.Recovered {
		m.Recovered.WithLabelValues(kind).Inc()
	}
	if out.Result == generic.ResultFailed {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

// ObserveHTTP records one finished request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
