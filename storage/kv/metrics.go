package kv

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "kvns"
	metricsSubsystem = "kvstore"
)

// metrics records RED metrics for every call forwarded to a backend
type metrics struct {
	reqs *prometheus.CounterVec
	errs *prometheus.CounterVec
	durs *prometheus.HistogramVec
}

func newMetrics(backend string) *metrics {
	labels := prometheus.Labels{"backend": backend}

	return &metrics{
		reqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "call_total",
			Help:        "Number of calls forwarded to the kv backend",
			ConstLabels: labels,
		}, []string{"op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "error_total",
			Help:        "Number of kv backend calls that returned an error",
			ConstLabels: labels,
		}, []string{"op", "code"}),
		durs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "duration_seconds",
			Help:        "Duration of kv backend calls",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.reqs, m.errs, m.durs}
}

func (m *metrics) observe(op string, duration time.Duration, err error) {
	m.reqs.WithLabelValues(op).Inc()
	m.durs.WithLabelValues(op).Observe(duration.Seconds())

	if err != nil {
		m.errs.WithLabelValues(op, errorCode(err)).Inc()
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoMoreEntries):
		return "no_more_entries"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNoSuchIndex):
		return "no_such_index"
	case errors.Is(err, ErrIndexExists):
		return "index_exists"
	case errors.Is(err, ErrTransactionInProgress), errors.Is(err, ErrNoTransaction):
		return "transaction"
	}

	return "backend"
}
