package memory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hyperjump/mneme/internal/memory")

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	indexSize  prometheus.Gauge
	replays    *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mneme_engine_operations_total",
				Help: "Engine operations by operation and outcome kind",
			},
			[]string{"op", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mneme_engine_operation_duration_seconds",
				Help:    "Engine operation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
			},
			[]string{"op"},
		),
		indexSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mneme_index_vectors",
				Help: "Number of vectors in the similarity index",
			},
		),
		replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mneme_replay_attempts_total",
				Help: "Replay attempts by outcome kind",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(m.operations, m.duration, m.indexSize, m.replays)
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, Kind(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) setIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}

func (m *Metrics) replayAttempt(err error) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(Kind(err)).Inc()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
	}
	span.End()
}
