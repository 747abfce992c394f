package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector of one callscribe process. Each
// instance owns its registry. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Capture
	ChunksRead    *prometheus.CounterVec
	ChunksDropped *prometheus.CounterVec

	// Transcription
	ChunksSent    *prometheus.CounterVec
	SendErrors    *prometheus.CounterVec
	Transcripts   *prometheus.CounterVec
	ServiceErrors *prometheus.CounterVec

	// Aggregation
	BatchesFlushed *prometheus.CounterVec
	PendingLines   prometheus.Gauge

	// Dispatch
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	DispatchDropped  prometheus.Counter
	QueueDepth       prometheus.Gauge

	PipelineUp prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksRead: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_chunks_read_total",
			Help: "Audio chunks taken from the capture buffer for sending",
		}, []string{"channel"}),
		ChunksDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_chunks_dropped_total",
			Help: "Audio chunks dropped because the capture buffer was full",
		}, []string{"channel"}),

		ChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_chunks_sent_total",
			Help: "Audio chunks forwarded to the transcription service",
		}, []string{"channel"}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_send_errors_total",
			Help: "Audio chunks the transcription session refused",
		}, []string{"channel"}),
		Transcripts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_transcripts_total",
			Help: "Finalized transcript segments received",
		}, []string{"channel"}),
		ServiceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_service_errors_total",
			Help: "Error notifications from the transcription service",
		}, []string{"channel"}),

		BatchesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_batches_flushed_total",
			Help: "Conversation batches cut by the aggregator",
		}, []string{"reason"}),
		PendingLines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_pending_lines",
			Help: "Transcript lines buffered and not yet flushed",
		}),

		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callscribe_dispatch_total",
			Help: "Batches sent to the processing endpoint by outcome",
		}, []string{"outcome"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callscribe_dispatch_duration_seconds",
			Help:    "Time spent waiting for the processing endpoint",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		DispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "callscribe_dispatch_dropped_total",
			Help: "Batches dropped because the dispatch queue was full",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_dispatch_queue_depth",
			Help: "Batches waiting to be dispatched",
		}),

		PipelineUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callscribe_pipeline_running",
			Help: "1 while both channels are capturing and transcribing",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ChunkSent(channel string) {
	if m == nil {
		return
	}
	m.ChunksRead.WithLabelValues(channel).Inc()
	m.ChunksSent.WithLabelValues(channel).Inc()
}

func (m *Metrics) SendFailed(channel string) {
	if m == nil {
		return
	}
	m.ChunksRead.WithLabelValues(channel).Inc()
	m.SendErrors.WithLabelValues(channel).Inc()
}

// SetDropped raises the drop counter of channel to the buffer's running total.
func (m *Metrics) SetDropped(channel string, total uint64) {
	if m == nil {
		return
	}
	c := m.ChunksDropped.WithLabelValues(channel)
	if cur := counterValue(c); float64(total) > cur {
		c.Add(float64(total) - cur)
	}
}

func (m *Metrics) Transcript(channel string) {
	if m == nil {
		return
	}
	m.Transcripts.WithLabelValues(channel).Inc()
}

func (m *Metrics) ServiceError(channel string) {
	if m == nil {
		return
	}
	m.ServiceErrors.WithLabelValues(channel).Inc()
}

func (m *Metrics) Flushed(reason string, pending int) {
	if m == nil {
		return
	}
	m.BatchesFlushed.WithLabelValues(reason).Inc()
	m.PendingLines.Set(float64(pending))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingLines.Set(float64(n))
}

func (m *Metrics) Dispatched(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(outcome).Inc()
	m.DispatchDuration.Observe(took.Seconds())
}

func (m *Metrics) DispatchQueueFull() {
	if m == nil {
		return
	}
	m.DispatchDropped.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.PipelineUp.Set(1)
		return
	}
	m.PipelineUp.Set(0)
}
