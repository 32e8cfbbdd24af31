package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/config"
	"github.com/skypro1111/speechcheck/internal/metrics"
)

const (
	serviceName    = "speechcheck-analysis-stub"
	serviceVersion = "1.0.0"

	qualityGood  = "Good"
	qualityNoisy = "Noisy"
)

// HTTPServer is a local reference implementation of the analysis service
type HTTPServer struct {
	server     *http.Server
	handler    http.Handler
	listener   net.Listener
	logger     *slog.Logger
	config     config.StubConfig
	metrics    *metrics.Metrics
	transcoder *audio.Transcoder

	// Server state
	startTime time.Time
	stats     ServiceStats
	mu        sync.RWMutex
}

// ServiceStats represents analysis statistics for the /stats endpoint
type ServiceStats struct {
	Analyses      uint64 `json:"analyses"`
	Noisy         uint64 `json:"noisy"`
	DomainErrors  uint64 `json:"domain_errors"`
	BytesReceived uint64 `json:"bytes_received"`
}

// NewHTTPServer creates the reference analysis service. Metrics are served
// from gatherer, or the default Prometheus registry when gatherer is nil.
func NewHTTPServer(cfg config.StubConfig, logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) (*HTTPServer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Uploads are normalized with the client's own transcoder, so anything
	// the client can record the service can analyze.
	transcoder, err := audio.NewTranscoder(audio.DefaultTranscoderConfig(), nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		metrics:    m,
		transcoder: transcoder,
		startTime:  time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux, gatherer)

	h.handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	}).Handler(mux)

	h.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	// Analysis endpoint; the browser client posts to the trailing-slash form
	mux.HandleFunc("/analyze", h.withMetrics("/analyze", h.handleAnalyze))
	mux.HandleFunc("/analyze/", h.withMetrics("/analyze", h.handleAnalyze))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the routed handler including CORS, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	h.logger.Info("Starting analysis service",
		slog.String("address", listener.Addr().String()),
		slog.Any("allowed_origins", h.config.AllowedOrigins),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started, else the configured one
func (h *HTTPServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.server.Addr
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping analysis service...")

	return h.server.Shutdown(ctx)
}

// GetStats returns a copy of the analysis statistics
func (h *HTTPServer) GetStats() ServiceStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// handleAnalyze implements POST /analyze: multipart field "file" holding a
// recording. Undecodable audio is a domain error reported in the body.
func (h *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed"})
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := h.logger.With(slog.String("request_id", requestID))

	r.Body = http.MaxBytesReader(w, r.Body, h.config.GetMaxUploadBytes())
	if err := r.ParseMultipartForm(h.config.GetMaxUploadBytes()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"detail": "Upload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Error parsing form"})
		return
	}

	file, header, err := r.FormFile(analysis.FieldName)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Missing audio file part"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Error reading audio file"})
		return
	}

	mimeType := uploadMimeType(header.Header.Get("Content-Type"))
	logger.Info("Analysis request received",
		slog.String("filename", header.Filename),
		slog.String("mime_type", mimeType),
		slog.Int("bytes", len(data)),
	)

	result, err := h.analyze(data, mimeType)

	h.mu.Lock()
	h.stats.BytesReceived += uint64(len(data))
	if err != nil {
		h.stats.DomainErrors++
	} else {
		h.stats.Analyses++
		if result.IsNoisy {
			h.stats.Noisy++
		}
	}
	h.mu.Unlock()

	if err != nil {
		logger.Warn("Could not analyze upload", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// analyze normalizes the upload to canonical audio and grades its noise level
func (h *HTTPServer) analyze(data []byte, mimeType string) (*analysis.Result, error) {
	canonical, err := h.transcoder.Encode(&audio.RawCapture{Data: data, MimeType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("could not decode audio: %w", err)
	}

	samples, _, err := audio.CanonicalSamples(canonical.Bytes())
	if err != nil {
		return nil, fmt.Errorf("could not read samples: %w", err)
	}

	noiseLevel := audio.NoiseLevel(samples)
	isNoisy := noiseLevel > h.config.NoiseThreshold

	result := &analysis.Result{
		QualityAssessment: qualityGood,
		Transcription:     h.config.Transcription,
		IsNoisy:           isNoisy,
	}
	if isNoisy {
		result.QualityAssessment = qualityNoisy
		result.NoiseLevel = &noiseLevel
	}

	h.metrics.RecordServiceAnalysis(result.QualityAssessment, noiseLevel)
	h.logger.Info("Upload analyzed",
		slog.String("quality", result.QualityAssessment),
		slog.Float64("noise_level", noiseLevel),
		slog.Int("samples", len(samples)),
		slog.Duration("audio_duration", canonical.Duration()),
	)
	return result, nil
}

// uploadMimeType falls back to WAV for parts without a useful content type
func uploadMimeType(contentType string) string {
	if contentType == "" {
		return "audio/wav"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "application/octet-stream" {
		return "audio/wav"
	}
	return contentType
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":          time.Since(h.startTime).String(),
		"timestamp":       time.Now().UTC(),
		"analysis":        h.GetStats(),
		"noise_threshold": h.config.NoiseThreshold,
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Speech Check Analysis Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":         "API documentation",
			"POST /analyze": "Analyze a recording (multipart field \"file\")",
			"GET /health":   "Service health check",
			"GET /stats":    "Analysis statistics",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
