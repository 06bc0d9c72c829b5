package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the translator.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Capture metrics
	FramesProcessed   prometheus.Counter
	SilentFrames      prometheus.Counter
	UtterancesEmitted *prometheus.CounterVec
	UtteranceDuration prometheus.Histogram
	UtterancesDropped prometheus.Counter
	QueueDepth        prometheus.Gauge
	CaptureFailures   prometheus.Counter

	// Network microphone metrics
	PacketsReceived prometheus.Counter
	ParseErrors     prometheus.Counter
	PacketsLost     prometheus.Counter

	// Collaborator metrics
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionFailures prometheus.Counter
	TranscriptionRetries  prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	TranslationRequests   prometheus.Counter
	TranslationFailures   prometheus.Counter
	TranslationDuration   prometheus.Histogram

	// Session metrics
	EntriesAdded      prometheus.Counter
	EmptyResults      prometheus.Counter
	RecordedSeconds   prometheus.Gauge
	SessionsSaved     prometheus.Counter
	SessionSaveErrors prometheus.Counter
	SessionsDiscarded prometheus.Counter
	SaveDuration      prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_capture_frames_total",
			Help: "Total number of capture frames processed by the chunker",
		}),
		SilentFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_capture_silent_frames_total",
			Help: "Total number of capture frames classified as silence",
		}),
		UtterancesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_utterances_emitted_total",
			Help: "Total number of utterances emitted, by trigger",
		}, []string{"reason"}),
		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_utterance_duration_seconds",
			Help:    "Duration of emitted utterances",
			Buckets: prometheus.LinearBuckets(1, 2, 10), // 1s to 19s
		}),
		UtterancesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_utterances_dropped_total",
			Help: "Total number of utterances dropped because the queue was full",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "translator_utterance_queue_depth",
			Help: "Current number of utterances waiting for the pipeline",
		}),
		CaptureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_capture_failures_total",
			Help: "Total number of capture callbacks that stopped capture",
		}),

		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_udp_packets_received_total",
			Help: "Total number of network microphone packets received",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_udp_parse_errors_total",
			Help: "Total number of network microphone packets that failed to parse",
		}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_udp_packets_lost_total",
			Help: "Total number of network microphone packets declared lost",
		}),

		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_transcription_requests_total",
			Help: "Total number of transcription requests, by task",
		}, []string{"task"}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranslationRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_translation_requests_total",
			Help: "Total number of translation requests",
		}),
		TranslationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_translation_failures_total",
			Help: "Total number of failed translation requests",
		}),
		TranslationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_translation_duration_seconds",
			Help:    "Duration of translation requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		EntriesAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_entries_added_total",
			Help: "Total number of transcript entries appended to sessions",
		}),
		EmptyResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_empty_results_total",
			Help: "Total number of utterances that transcribed to empty text",
		}),
		RecordedSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "translator_recorded_seconds",
			Help: "Audio seconds written for the current session",
		}),
		SessionsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_sessions_saved_total",
			Help: "Total number of sessions materialized to disk",
		}),
		SessionSaveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_session_save_errors_total",
			Help: "Total number of failed session saves",
		}),
		SessionsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "translator_sessions_discarded_total",
			Help: "Total number of recordings discarded",
		}),
		SaveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "translator_session_save_duration_seconds",
			Help:    "Time spent materializing sessions",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "translator_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "translator_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrame records one processed capture frame
func (m *Metrics) RecordFrame(silent bool) {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
	if silent {
		m.SilentFrames.Inc()
	}
}

// RecordUtterance records an emitted utterance
func (m *Metrics) RecordUtterance(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UtterancesEmitted.WithLabelValues(reason).Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordUtteranceDropped records an utterance lost to queue overflow
func (m *Metrics) RecordUtteranceDropped() {
	if m == nil {
		return
	}
	m.UtterancesDropped.Inc()
}

// SetQueueDepth updates the utterance queue depth gauge
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordCaptureFailure records a capture callback failure
func (m *Metrics) RecordCaptureFailure() {
	if m == nil {
		return
	}
	m.CaptureFailures.Inc()
}

// RecordPacketReceived records a received network microphone packet
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordParseError records a packet parse failure
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordPacketsLost records packets skipped by the reorder buffer
func (m *Metrics) RecordPacketsLost(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PacketsLost.Add(float64(n))
}

// RecordTranscription records a completed transcription request
func (m *Metrics) RecordTranscription(task string, durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.WithLabelValues(task).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
	if failed {
		m.TranscriptionFailures.Inc()
	}
}

// RecordTranscriptionRetry records a transcription retry
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordTranslation records a completed translation request
func (m *Metrics) RecordTranslation(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.TranslationRequests.Inc()
	m.TranslationDuration.Observe(durationSeconds)
	if failed {
		m.TranslationFailures.Inc()
	}
}

// RecordEntry records a transcript entry appended to the session
func (m *Metrics) RecordEntry() {
	if m == nil {
		return
	}
	m.EntriesAdded.Inc()
}

// RecordEmptyResult records an utterance that produced no text
func (m *Metrics) RecordEmptyResult() {
	if m == nil {
		return
	}
	m.EmptyResults.Inc()
}

// SetRecordedSeconds updates the recorded audio gauge
func (m *Metrics) SetRecordedSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.RecordedSeconds.Set(seconds)
}

// RecordSessionSaved records a session save attempt
func (m *Metrics) RecordSessionSaved(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.SaveDuration.Observe(durationSeconds)
	if failed {
		m.SessionSaveErrors.Inc()
		return
	}
	m.SessionsSaved.Inc()
}

// RecordSessionDiscarded records a discarded recording
func (m *Metrics) RecordSessionDiscarded() {
	if m == nil {
		return
	}
	m.SessionsDiscarded.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
