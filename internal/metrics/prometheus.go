package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the live transcription client
type Metrics struct {
	// Capture pipeline metrics
	BlocksCaptured prometheus.Counter
	FramesEmitted  prometheus.Counter
	FramesDropped  prometheus.Counter

	// Chunking metrics
	ChunksGenerated prometheus.Counter
	ChunksDropped   prometheus.Counter
	EncodeFailures  prometheus.Counter
	ForceClears     prometheus.Counter
	ChunkDuration   prometheus.Histogram
	ChunkSize       prometheus.Histogram
	BytesSent       prometheus.Counter

	// Connection metrics
	Connects          prometheus.Counter
	Disconnects       prometheus.Counter
	ReconnectAttempts prometheus.Counter
	Connected         prometheus.Gauge

	// Session metrics
	SessionsCreated prometheus.Counter
	SessionsResumed prometheus.Counter
	TranscriptLines prometheus.Counter
	SessionDuration prometheus.Histogram

	// Backend API metrics
	APIRequests        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the given
// registry. Pass a fresh registry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture pipeline metrics
		BlocksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_blocks_captured_total",
			Help: "Total number of audio blocks read from the capture engine",
		}),
		FramesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_frames_emitted_total",
			Help: "Total number of resampled frames handed to the aggregator",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_frames_dropped_total",
			Help: "Total number of frames dropped by the realtime path",
		}),

		// Chunking metrics
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_chunks_generated_total",
			Help: "Total number of audio chunks sent to the backend",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_chunks_dropped_total",
			Help: "Total number of chunks dropped while disconnected",
		}),
		EncodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_encode_failures_total",
			Help: "Total number of chunk encoding failures",
		}),
		ForceClears: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_buffer_force_clears_total",
			Help: "Total number of safety-valve buffer clears",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_chunk_duration_seconds",
			Help:    "Duration of generated audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_chunk_size_bytes",
			Help:    "Base64-encoded size of generated audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_bytes_sent_total",
			Help: "Total encoded audio bytes sent over the socket",
		}),

		// Connection metrics
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_socket_connects_total",
			Help: "Total number of successful socket connections",
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_socket_disconnects_total",
			Help: "Total number of socket disconnections",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_socket_reconnect_attempts_total",
			Help: "Total number of socket reconnection attempts",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_socket_connected",
			Help: "Whether the socket is currently connected (0 or 1)",
		}),

		// Session metrics
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsResumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_sessions_resumed_total",
			Help: "Total number of sessions resumed after reload",
		}),
		TranscriptLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_transcript_lines_total",
			Help: "Total number of transcript lines received",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		// Backend API metrics
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_api_requests_total",
			Help: "Total number of backend API requests",
		}, []string{"method", "endpoint", "status_code"}),
		APIRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcribe_api_request_duration_seconds",
			Help:    "Duration of backend API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		APIErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_api_errors_total",
			Help: "Total number of backend API errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBlockCaptured increments the captured blocks counter
func (m *Metrics) RecordBlockCaptured() {
	m.BlocksCaptured.Inc()
}

// RecordFrameEmitted increments the emitted frames counter
func (m *Metrics) RecordFrameEmitted() {
	m.FramesEmitted.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordChunkGenerated records a chunk sent to the backend
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, encodedBytes int) {
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(encodedBytes))
	m.BytesSent.Add(float64(encodedBytes))
}

// RecordChunkDropped increments the dropped chunks counter
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordEncodeFailure increments the encode failures counter
func (m *Metrics) RecordEncodeFailure() {
	m.EncodeFailures.Inc()
}

// RecordForceClear increments the safety-valve clears counter
func (m *Metrics) RecordForceClear() {
	m.ForceClears.Inc()
}

// RecordConnect marks the socket connected
func (m *Metrics) RecordConnect() {
	m.Connects.Inc()
	m.Connected.Set(1)
}

// RecordDisconnect marks the socket disconnected
func (m *Metrics) RecordDisconnect() {
	m.Disconnects.Inc()
	m.Connected.Set(0)
}

// RecordReconnectAttempt increments the reconnect attempts counter
func (m *Metrics) RecordReconnectAttempt() {
	m.ReconnectAttempts.Inc()
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionResumed increments the sessions resumed counter
func (m *Metrics) RecordSessionResumed() {
	m.SessionsResumed.Inc()
}

// RecordTranscriptLines adds to the transcript lines counter
func (m *Metrics) RecordTranscriptLines(count int) {
	m.TranscriptLines.Add(float64(count))
}

// RecordSessionEnded records a completed recording session
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAPIRequest records a backend API request
func (m *Metrics) RecordAPIRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.APIRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.APIRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordAPIError records a backend API error
func (m *Metrics) RecordAPIError(method, endpoint, errorType string) {
	m.APIErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
