package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech check client and the
// reference analysis service. All Record methods are safe on a nil *Metrics.
type Metrics struct {
	// Capture metrics
	CaptureSessions prometheus.Counter
	CaptureFailures *prometheus.CounterVec
	CaptureChunks   prometheus.Counter
	CaptureBytes    prometheus.Histogram

	// Transcoding metrics
	TranscodeDuration prometheus.Histogram
	TranscodeFailures prometheus.Counter
	CanonicalSize     prometheus.Histogram

	// Analysis client metrics
	AnalysisRequests  prometheus.Counter
	AnalysisSuccesses prometheus.Counter
	AnalysisFailures  *prometheus.CounterVec
	AnalysisRejected  prometheus.Counter
	AnalysisDuration  prometheus.Histogram

	// Session state machine metrics
	SessionTransitions *prometheus.CounterVec

	// Reference analysis service metrics
	ServiceAnalyses   *prometheus.CounterVec
	ServiceNoiseLevel prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CaptureSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcheck_capture_sessions_total",
			Help: "Total number of capture sessions started",
		}),
		CaptureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcheck_capture_failures_total",
			Help: "Total number of capture failures by kind",
		}, []string{"kind"}),
		CaptureChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcheck_capture_chunks_total",
			Help: "Total number of encoded chunks received from capture devices",
		}),
		CaptureBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcheck_capture_size_bytes",
			Help:    "Size of finalized raw captures",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),

		TranscodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcheck_transcode_duration_seconds",
			Help:    "Time spent turning raw captures into canonical audio",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		TranscodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcheck_transcode_failures_total",
			Help: "Total number of captures that failed to decode",
		}),
		CanonicalSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcheck_canonical_audio_size_bytes",
			Help:    "Size of canonical WAV buffers",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14),
		}),

		AnalysisRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcheck_analysis_requests_total",
			Help: "Total number of analysis requests sent",
		}),
		AnalysisSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcheck_analysis_successes_total",
			Help: "Total number of successful analysis round trips",
		}),
		AnalysisFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcheck_analysis_failures_total",
			Help: "Total number of failed analysis requests by kind",
		}, []string{"kind"}),
		AnalysisRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechcheck_analysis_rejected_total",
			Help: "Total number of submissions rejected because one was already in flight",
		}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcheck_analysis_duration_seconds",
			Help:    "Duration of analysis round trips",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),

		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcheck_session_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"from", "to"}),

		ServiceAnalyses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcheck_service_analyses_total",
			Help: "Total number of uploads analyzed by the reference service",
		}, []string{"quality"}),
		ServiceNoiseLevel: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechcheck_service_noise_level",
			Help:    "Noise level of analyzed uploads",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speechcheck_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechcheck_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCaptureStarted increments the capture sessions counter
func (m *Metrics) RecordCaptureStarted() {
	if m == nil {
		return
	}
	m.CaptureSessions.Inc()
}

// RecordCaptureFailure records a capture failure of the given kind
func (m *Metrics) RecordCaptureFailure(kind string) {
	if m == nil {
		return
	}
	m.CaptureFailures.WithLabelValues(kind).Inc()
}

// RecordChunk increments the received chunks counter
func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.CaptureChunks.Inc()
}

// RecordCaptureFinalized records the size of a finalized capture
func (m *Metrics) RecordCaptureFinalized(sizeBytes int) {
	if m == nil {
		return
	}
	m.CaptureBytes.Observe(float64(sizeBytes))
}

// RecordTranscode records a transcoding attempt
func (m *Metrics) RecordTranscode(durationSeconds float64, canonicalBytes int, err error) {
	if m == nil {
		return
	}
	m.TranscodeDuration.Observe(durationSeconds)
	if err != nil {
		m.TranscodeFailures.Inc()
		return
	}
	m.CanonicalSize.Observe(float64(canonicalBytes))
}

// RecordAnalysisRequest increments analysis requests counter
func (m *Metrics) RecordAnalysisRequest() {
	if m == nil {
		return
	}
	m.AnalysisRequests.Inc()
}

// RecordAnalysisSuccess records a successful analysis
func (m *Metrics) RecordAnalysisSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.AnalysisSuccesses.Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnalysisFailure records a failed analysis of the given kind
func (m *Metrics) RecordAnalysisFailure(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AnalysisFailures.WithLabelValues(kind).Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordAnalysisRejected increments the in-flight rejection counter
func (m *Metrics) RecordAnalysisRejected() {
	if m == nil {
		return
	}
	m.AnalysisRejected.Inc()
}

// RecordTransition records a session state transition
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordServiceAnalysis records an upload analyzed by the reference service
func (m *Metrics) RecordServiceAnalysis(quality string, noiseLevel float64) {
	if m == nil {
		return
	}
	m.ServiceAnalyses.WithLabelValues(quality).Inc()
	m.ServiceNoiseLevel.Observe(noiseLevel)
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
