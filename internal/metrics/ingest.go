package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dropwatch"

// Ingest 汇总处理流程的 Prometheus 指标，实现 ingest.Observer。
type Ingest struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	pairs         *prometheus.CounterVec
	bytes         prometheus.Counter
	relocations   prometheus.Counter
	lastCycle     prometheus.Gauge
}

// NewIngest 创建指标并注册到 reg；reg 为 nil 时使用默认注册表。
func NewIngest(reg prometheus.Registerer) *Ingest {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Ingest{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Ingest cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one ingest cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairs_total",
			Help:      "Processed descriptor/media pairs by outcome and reason.",
		}, []string{"status", "reason"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Media bytes uploaded to the object store.",
		}),
		relocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocation_failures_total",
			Help:      "Files whose move to done/ or error/ could not be confirmed.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle.",
		}),
	}

	reg.MustRegister(m.cycles, m.cycleDuration, m.pairs, m.bytes, m.relocations, m.lastCycle)
	return m
}

func (m *Ingest) PairProcessed(status, reason string) {
	if reason == "" {
		reason = "none"
	}
	m.pairs.WithLabelValues(status, reason).Inc()
}

func (m *Ingest) BytesUploaded(n int64) {
	if n > 0 {
		m.bytes.Add(float64(n))
	}
}

func (m *Ingest) RelocationFailed() {
	m.relocations.Inc()
}

func (m *Ingest) CycleCompleted(result string, elapsed time.Duration) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.lastCycle.SetToCurrentTime()
}
