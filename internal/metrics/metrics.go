// Package metrics is the only package allowed to import
// prometheus/client_golang: the rest of the server records metrics through
// the methods of the concrete Observer type and never uses the metrics
// library directly. No separate observer interface type is declared.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Observer records the events the server's components emit. A nil
// *Observer is valid and every method becomes a no-op, so metrics can be
// disabled entirely without branching at every call site.
type Observer struct {
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	queueDepth     prometheus.Gauge
	queueRejected  prometheus.Counter
	activeConns    prometheus.Gauge
}

// New registers the server's metrics against reg and returns an Observer.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fenrir_http_requests_total",
			Help: "Total HTTP requests processed, labeled by method and status.",
		}, []string{"method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fenrir_http_request_duration_seconds",
			Help:    "Request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fenrir_worker_queue_depth",
			Help: "Current number of requests queued for a worker.",
		}),
		queueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fenrir_worker_queue_rejected_total",
			Help: "Total requests rejected because the worker queue was full.",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fenrir_active_connections",
			Help: "Current number of open client connections.",
		}),
	}

	reg.MustRegister(o.requests, o.requestLatency, o.queueDepth, o.queueRejected, o.activeConns)
	return o
}

// Handler returns the HTTP handler serving the registered metrics in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (o *Observer) ObserveRequest(method, status string, d time.Duration) {
	if o == nil {
		return
	}
	o.requests.WithLabelValues(method, status).Inc()
	o.requestLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (o *Observer) SetQueueDepth(n int) {
	if o == nil {
		return
	}
	o.queueDepth.Set(float64(n))
}

func (o *Observer) IncQueueRejected() {
	if o == nil {
		return
	}
	o.queueRejected.Inc()
}

func (o *Observer) SetActiveConnections(n int64) {
	if o == nil {
		return
	}
	o.activeConns.Set(float64(n))
}
