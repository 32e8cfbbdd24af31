package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/metrics"
)

// Wire constants for the upload part.
const (
	FieldName   = "file"
	FileName    = "recording.wav"
	ContentType = "audio/wav"
)

// Config contains analysis client configuration
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// Result is a successful analysis of one recording.
type Result struct {
	QualityAssessment string   `json:"quality_assessment"`
	NoiseLevel        *float64 `json:"noise_level,omitempty"`
	Transcription     string   `json:"transcription"`
	IsNoisy           bool     `json:"is_noisy"`
}

// response mirrors the service body; pointers detect missing fields.
type response struct {
	QualityAssessment *string  `json:"quality_assessment"`
	NoiseLevel        *float64 `json:"noise_level"`
	Transcription     *string  `json:"transcription"`
	IsNoisy           *bool    `json:"is_noisy"`
	Error             *string  `json:"error"`
}

// Client uploads canonical audio to the analysis service. At most one
// submission is outstanding at a time; there are no automatic retries.
type Client struct {
	config  Config
	http    *resty.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	inFlight atomic.Bool
}

// NewClient creates a new analysis client. logger and m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "speechcheck/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "application/json").
		SetRetryCount(0).
		SetLogger(restyLogger{logger: logger})

	return &Client{
		config:  config,
		http:    httpClient,
		logger:  logger,
		metrics: m,
	}, nil
}

// InFlight reports whether a submission is outstanding.
func (c *Client) InFlight() bool {
	return c.inFlight.Load()
}

// Submit uploads the recording and returns the parsed result. It fails with
// ErrRequestInFlight, *TransportError, *ProtocolError or *AnalysisError.
func (c *Client) Submit(ctx context.Context, recording *audio.CanonicalAudio) (*Result, error) {
	if recording == nil {
		return nil, fmt.Errorf("no canonical audio to submit")
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.RecordAnalysisRejected()
		return nil, ErrRequestInFlight
	}
	defer c.inFlight.Store(false)

	requestID := uuid.NewString()
	logger := c.logger.With(slog.String("request_id", requestID))
	logger.Info("Submitting recording for analysis",
		slog.String("endpoint", c.config.Endpoint),
		slog.Int("bytes", recording.Len()),
		slog.Duration("audio_duration", recording.Duration()),
	)

	c.metrics.RecordAnalysisRequest()
	startTime := time.Now()

	result, err := c.do(ctx, requestID, recording)
	elapsed := time.Since(startTime)
	if err != nil {
		c.metrics.RecordAnalysisFailure(ErrorKind(err), elapsed.Seconds())
		logger.Warn("Analysis failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return nil, err
	}

	c.metrics.RecordAnalysisSuccess(elapsed.Seconds())
	logger.Info("Analysis completed",
		slog.String("quality", result.QualityAssessment),
		slog.Bool("is_noisy", result.IsNoisy),
		slog.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (c *Client) do(ctx context.Context, requestID string, recording *audio.CanonicalAudio) (*Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetMultipartField(FieldName, FileName, ContentType, recording.Reader()).
		Post(c.config.Endpoint)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	body := resp.Body()
	if !resp.IsSuccess() {
		return nil, &TransportError{StatusCode: resp.StatusCode(), Body: truncateBody(body)}
	}

	return parseResponse(body)
}

func parseResponse(body []byte) (*Result, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &ProtocolError{Reason: "body is not a JSON object", Body: truncateBody(body), Err: err}
	}

	if r.Error != nil && *r.Error != "" {
		return nil, &AnalysisError{Message: *r.Error}
	}

	switch {
	case r.QualityAssessment == nil:
		return nil, &ProtocolError{Reason: "missing quality_assessment", Body: truncateBody(body)}
	case r.Transcription == nil:
		return nil, &ProtocolError{Reason: "missing transcription", Body: truncateBody(body)}
	case r.IsNoisy == nil:
		return nil, &ProtocolError{Reason: "missing is_noisy", Body: truncateBody(body)}
	}

	return &Result{
		QualityAssessment: *r.QualityAssessment,
		NoiseLevel:        r.NoiseLevel,
		Transcription:     *r.Transcription,
		IsNoisy:           *r.IsNoisy,
	}, nil
}

// ErrorKind names the failure class of a Submit error for logs and metrics.
func ErrorKind(err error) string {
	switch err.(type) {
	case *TransportError:
		return "transport"
	case *ProtocolError:
		return "protocol"
	case *AnalysisError:
		return "analysis"
	}
	if err == ErrRequestInFlight {
		return "in_flight"
	}
	return "other"
}

// restyLogger routes resty's internal messages through slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), slog.String("component", "resty"))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), slog.String("component", "resty"))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "resty"))
}
