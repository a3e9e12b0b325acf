package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	registry *prometheus.Registry

	// Ingest metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	PacketsLost      *prometheus.CounterVec
	QueueSize        prometheus.Gauge

	// Live session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	SilentBlocks    *prometheus.CounterVec

	// Recognition metrics
	RecognitionRequests *prometheus.CounterVec
	RecognitionFailures *prometheus.CounterVec
	RecognitionDuration *prometheus.HistogramVec

	// Segment filter metrics
	SegmentsEmitted   *prometheus.CounterVec
	NoiseSkipped      *prometheus.CounterVec
	EchoesSuppressed  prometheus.Counter
	DuplicatesDropped prometheus.Counter

	// Echo cancellation metrics
	AECBlocks *prometheus.CounterVec
	AECDelay  prometheus.Gauge

	// Reconciliation metrics
	ReconcileRuns  *prometheus.CounterVec
	ReconcileItems *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_packets_received_total",
			Help: "Total number of ingest packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_packets_processed_total",
			Help: "Total number of ingest packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_parse_errors_total",
			Help: "Total number of ingest packet parsing errors",
		}),
		PacketsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_packets_lost_total",
			Help: "Audio packets missing from the sequence, per source",
		}, []string{"source"}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualscribe_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualscribe_live_sessions_active",
			Help: "1 while a live transcription session is running",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_live_sessions_started_total",
			Help: "Total number of live transcription sessions started",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dualscribe_live_session_duration_seconds",
			Help:    "Duration of live transcription sessions",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85 minutes
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_live_ticks_total",
			Help: "Total number of scheduler ticks processed",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dualscribe_live_tick_duration_seconds",
			Help:    "Wall time of one scheduler tick including recognition",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		SilentBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_silent_blocks_total",
			Help: "Blocks not sent for recognition because the energy gate found no voice",
		}, []string{"source"}),

		RecognitionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_recognition_requests_total",
			Help: "Total number of recognition requests, per source",
		}, []string{"source"}),
		RecognitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_recognition_failures_total",
			Help: "Total number of failed recognition requests, per source",
		}, []string{"source"}),
		RecognitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dualscribe_recognition_duration_seconds",
			Help:    "Duration of recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}, []string{"source"}),

		SegmentsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_segments_emitted_total",
			Help: "Segments kept after filtering, per source",
		}, []string{"source"}),
		NoiseSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_noise_segments_skipped_total",
			Help: "Segments dropped as noise markers or empty text, per source",
		}, []string{"source"}),
		EchoesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_echoes_suppressed_total",
			Help: "Microphone segments dropped as echoes of system audio",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dualscribe_duplicates_dropped_total",
			Help: "Segments dropped as duplicates during reconciliation",
		}),

		AECBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_aec_blocks_total",
			Help: "Blocks processed by the echo canceller, per adaptation mode",
		}, []string{"mode"}),
		AECDelay: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualscribe_aec_estimated_delay_samples",
			Help: "Latest echo delay estimate in samples",
		}),

		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_reconcile_runs_total",
			Help: "Reconciliation runs, per outcome",
		}, []string{"result"}),
		ReconcileItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_reconcile_items_total",
			Help: "Recordings processed during reconciliation, per outcome",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dualscribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dualscribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the metrics registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordPacketsLost adds sequence gaps observed on a source
func (m *Metrics) RecordPacketsLost(source string, count uint64) {
	if count > 0 {
		m.PacketsLost.WithLabelValues(source).Add(float64(count))
	}
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordSessionStarted marks a live session as running
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Set(1)
}

// RecordSessionStopped marks the live session as finished and records its duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.ActiveSessions.Set(0)
	m.SessionDuration.Observe(durationSeconds)
}

// RecordTick records one scheduler tick
func (m *Metrics) RecordTick(durationSeconds float64) {
	m.Ticks.Inc()
	m.TickDuration.Observe(durationSeconds)
}

// RecordSilentBlock counts a block skipped by the energy gate
func (m *Metrics) RecordSilentBlock(source string) {
	m.SilentBlocks.WithLabelValues(source).Inc()
}

// RecordRecognition records a recognition request and its outcome
func (m *Metrics) RecordRecognition(source string, durationSeconds float64, failed bool) {
	m.RecognitionRequests.WithLabelValues(source).Inc()
	m.RecognitionDuration.WithLabelValues(source).Observe(durationSeconds)
	if failed {
		m.RecognitionFailures.WithLabelValues(source).Inc()
	}
}

// RecordSegments records the outcome of filtering one batch of segments
func (m *Metrics) RecordSegments(source string, emitted, noise, echoes int) {
	m.SegmentsEmitted.WithLabelValues(source).Add(float64(emitted))
	m.NoiseSkipped.WithLabelValues(source).Add(float64(noise))
	m.EchoesSuppressed.Add(float64(echoes))
}

// RecordDuplicates counts segments dropped by deduplication
func (m *Metrics) RecordDuplicates(count int) {
	m.DuplicatesDropped.Add(float64(count))
}

// RecordAECBlock records an echo canceller block and the current delay estimate
func (m *Metrics) RecordAECBlock(mode string, delaySamples int) {
	m.AECBlocks.WithLabelValues(mode).Inc()
	m.AECDelay.Set(float64(delaySamples))
}

// RecordReconcileRun records the outcome of a reconciliation run
func (m *Metrics) RecordReconcileRun(result string) {
	m.ReconcileRuns.WithLabelValues(result).Inc()
}

// RecordReconcileItem records the outcome of one reconciled recording
func (m *Metrics) RecordReconcileItem(result string) {
	m.ReconcileItems.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
