package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the task collectors. A nil *Metrics records nothing.
type Metrics struct {
	startedTotal  prometheus.Counter
	finishedTotal *prometheus.CounterVec
	duration      prometheus.Histogram
	active        prometheus.Gauge
}

// NewMetrics creates the task collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		startedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdsp_tasks_started_total",
			Help: "Background tasks started.",
		}),
		finishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdsp_tasks_finished_total",
			Help: "Background tasks finished, by final status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rdsp_task_duration_seconds",
			Help:    "Wall time of background tasks.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsp_tasks_active",
			Help: "Background tasks currently running.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.startedTotal, m.finishedTotal, m.duration, m.active} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.startedTotal.Inc()
	m.active.Inc()
}

func (m *Metrics) finished(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.finishedTotal.WithLabelValues(string(status)).Inc()
	m.duration.Observe(d.Seconds())
}
