package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AdmissionCounter counts synchronous purchase outcomes by result.
	AdmissionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seckill",
			Subsystem: "admission",
			Name:      "requests_total",
			Help:      "Counter of seckill admission results.",
		}, []string{"result"})

	// PersistCounter counts background persistence outcomes.
	PersistCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seckill",
			Subsystem: "persist",
			Name:      "tasks_total",
			Help:      "Counter of order persistence outcomes.",
		}, []string{"outcome"})

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seckill",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of admitted orders waiting to be persisted.",
		})

	CacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seckill",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Counter of cache lookups and rebuilds.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(AdmissionCounter)
	prometheus.MustRegister(PersistCounter)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(CacheCounter)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
