package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

// Metrics holds the coordinator's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	batches  *prometheus.CounterVec
	items    *prometheus.CounterVec
	duration prometheus.Histogram
	inflight prometheus.Gauge
}

// NewMetrics registers the coordinator collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemproc",
			Name:      "batches_total",
			Help:      "Batch runs by result.",
		}, []string{"result"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itemproc",
			Name:      "items_total",
			Help:      "Per-item task outcomes.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "itemproc",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batch runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "itemproc",
			Name:      "tasks_inflight",
			Help:      "Tasks currently executing on the worker pool.",
		}),
	}
}

func (m *Metrics) observeOutcome(kind domain.OutcomeKind) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeBatch(res *domain.BatchResult, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.batches.WithLabelValues(result).Inc()
	if res != nil {
		m.duration.Observe(res.Duration().Seconds())
	}
}

func (m *Metrics) taskStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) taskDone() {
	if m != nil {
		m.inflight.Dec()
	}
}
