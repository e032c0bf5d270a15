package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the private data server.
type Metrics struct {
	PrivateDataReads  *prometheus.CounterVec
	PrivateDataWrites *prometheus.CounterVec
	RequestLatency    *prometheus.HistogramVec
}

// New creates and registers the server metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PrivateDataReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wwwallet_private_data_reads_total",
			Help: "Private data reads by outcome",
		}, []string{"outcome"}),
		PrivateDataWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wwwallet_private_data_writes_total",
			Help: "Private data writes by outcome (ok, conflict, error)",
		}, []string{"outcome"}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wwwallet_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) IncrementRead(outcome string) {
	if m == nil {
		return
	}
	m.PrivateDataReads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementWrite(outcome string) {
	if m == nil {
		return
	}
	m.PrivateDataWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLatency(route, method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
