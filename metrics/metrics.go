// Package metrics exposes point engine measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/point-engine/point"
)

const namespace = "point"

// Recorder implements point.Recorder on a Prometheus registry.
type Recorder struct {
	gatherer prometheus.Gatherer

	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	lockWait     prometheus.Histogram
	expired      prometheus.Counter
	systemErrors prometheus.Counter
}

var _ point.Recorder = (*Recorder)(nil)

// New registers the engine metrics on reg.
func New(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by operation and result code.",
		}, []string{"op", "code"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency including lock wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-user lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "expired_batches_total",
			Help:      "Earn batches marked EXPIRED by the sweep.",
		}),
		systemErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "system_errors_total",
			Help:      "Operations rolled back with SYSTEM_ERROR, inconsistencies included.",
		}),
	}
}

// NewDefault registers on a fresh registry that also carries the Go and
// process collectors.
func NewDefault() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return New(reg)
}

func (r *Recorder) ObserveOperation(op string, code point.Code, d time.Duration) {
	r.operations.WithLabelValues(op, string(code)).Inc()
	r.latency.WithLabelValues(op).Observe(d.Seconds())
	if code == point.CodeSystem {
		r.systemErrors.Inc()
	}
}

func (r *Recorder) ObserveLockWait(d time.Duration) {
	r.lockWait.Observe(d.Seconds())
}

func (r *Recorder) AddExpired(n int) {
	r.expired.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
