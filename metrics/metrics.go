package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/mwantia/cachefs/data"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cachefs"

// Label names used by every collector.
const (
	LabelStore     = "store"
	LabelOperation = "operation"
	LabelResult    = "result"
	LabelKind      = "kind"
	LabelOutcome   = "outcome"
)

// Metrics records provider operations as Prometheus collectors. It satisfies
// cachefs.Observer. A nil *Metrics ignores every observation.
type Metrics struct {
	registry prometheus.Gatherer

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transactions      *prometheus.CounterVec
	mounts            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// selects a new private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		registry: reg,
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of provider operations by store, operation and result",
			},
			[]string{LabelStore, LabelOperation, LabelResult},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of provider operations",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{LabelStore, LabelOperation},
		),
		transactions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of finished transactions by kind and outcome",
			},
			[]string{LabelStore, LabelKind, LabelOutcome},
		),
		mounts: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mounted_filesystems",
				Help:      "Number of currently mounted filesystems",
			},
		),
	}
}

func (m *Metrics) ObserveOperation(storeID, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	m.operations.WithLabelValues(storeID, operation, result(err)).Inc()
	m.operationDuration.WithLabelValues(storeID, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransaction(storeID, kind, outcome string) {
	if m == nil {
		return
	}

	m.transactions.WithLabelValues(storeID, kind, outcome).Inc()
}

func (m *Metrics) ObserveMounts(count int) {
	if m == nil {
		return
	}

	m.mounts.Set(float64(count))
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the registry backing the collectors.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// result maps an operation error onto a small, fixed set of label values.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, data.ErrNotExist):
		return "not_exist"
	case errors.Is(err, data.ErrExist):
		return "exist"
	case errors.Is(err, data.ErrClosed):
		return "closed"
	case errors.Is(err, data.ErrUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}
