package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/metrics"
)

func testRecording(t *testing.T, n int) *audio.CanonicalAudio {
	t.Helper()
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	data, err := audio.EncodeCanonicalWAV(samples, 16000)
	require.NoError(t, err)
	rec, err := audio.NewCanonicalAudio(data)
	require.NoError(t, err)
	return rec
}

func newTestClient(t *testing.T, url string) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	client, err := NewClient(Config{Endpoint: url, Timeout: 5 * time.Second}, nil, m)
	require.NoError(t, err)
	return client, m
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil)
	assert.Error(t, err)
}

func TestSubmitWireFormat(t *testing.T) {
	rec := testRecording(t, 160)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err, "request id must be a uuid")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Len(t, r.MultipartForm.File, 1)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "recording.wav", header.Filename)
		assert.Equal(t, "audio/wav", header.Header.Get("Content-Type"))

		payload, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, rec.Bytes(), payload)

		jsonHandler(http.StatusOK, `{"quality_assessment":"Good","transcription":"hello","is_noisy":false}`)(w, r)
	}))
	defer server.Close()

	client, m := newTestClient(t, server.URL+"/analyze")
	result, err := client.Submit(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, &Result{QualityAssessment: "Good", Transcription: "hello", IsNoisy: false}, result)
	assert.Nil(t, result.NoiseLevel)
	assert.False(t, client.InFlight())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisSuccesses))
}

func TestSubmitNoisyResult(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK,
		`{"quality_assessment":"Noisy","noise_level":0.734,"transcription":"","is_noisy":true}`))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	result, err := client.Submit(context.Background(), testRecording(t, 10))
	require.NoError(t, err)

	require.NotNil(t, result.NoiseLevel)
	assert.InDelta(t, 0.734, *result.NoiseLevel, 1e-9)
	assert.True(t, result.IsNoisy)
	assert.Equal(t, "Noisy", result.QualityAssessment)
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"detail":"boom"}`,
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, 500, te.StatusCode)
				assert.Contains(t, te.Body, "boom")
			},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   "not found",
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, 404, te.StatusCode)
			},
		},
		{
			name:   "error status with error field stays transport",
			status: http.StatusBadGateway,
			body:   `{"error":"upstream"}`,
			check: func(t *testing.T, err error) {
				var te *TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, 502, te.StatusCode)
			},
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   "<html>oops</html>",
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.True(t, errors.As(err, &pe))
			},
		},
		{
			name:   "json array",
			status: http.StatusOK,
			body:   `[1,2,3]`,
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.True(t, errors.As(err, &pe))
			},
		},
		{
			name:   "missing fields",
			status: http.StatusOK,
			body:   `{"quality_assessment":"Good"}`,
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				require.True(t, errors.As(err, &pe))
				assert.Contains(t, pe.Reason, "transcription")
			},
		},
		{
			name:   "wrong field type",
			status: http.StatusOK,
			body:   `{"quality_assessment":"Good","transcription":"x","is_noisy":"no"}`,
			check: func(t *testing.T, err error) {
				var pe *ProtocolError
				assert.True(t, errors.As(err, &pe))
			},
		},
		{
			name:   "service reported error",
			status: http.StatusOK,
			body:   `{"error":"could not decode audio"}`,
			check: func(t *testing.T, err error) {
				var ae *AnalysisError
				require.True(t, errors.As(err, &ae))
				assert.Equal(t, "could not decode audio", ae.Message)

				var te *TransportError
				var pe *ProtocolError
				assert.False(t, errors.As(err, &te))
				assert.False(t, errors.As(err, &pe))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(jsonHandler(tt.status, tt.body))
			defer server.Close()

			client, m := newTestClient(t, server.URL)
			result, err := client.Submit(context.Background(), testRecording(t, 10))
			require.Error(t, err)
			assert.Nil(t, result)
			tt.check(t, err)

			assert.False(t, client.InFlight(), "in-flight flag must be cleared on failure")
			assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisFailures.WithLabelValues(ErrorKind(err))))
		})
	}
}

func TestSubmitConnectionRefused(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
	url := server.URL
	server.Close()

	client, _ := newTestClient(t, url)
	_, err := client.Submit(context.Background(), testRecording(t, 10))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.StatusCode)
	assert.NotNil(t, te.Err)
}

func TestSubmitAtMostOneInFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		jsonHandler(http.StatusOK, `{"quality_assessment":"Good","transcription":"hello","is_noisy":false}`)(w, r)
	}))
	defer server.Close()

	client, m := newTestClient(t, server.URL)
	rec := testRecording(t, 10)

	firstDone := make(chan error, 1)
	go func() {
		_, err := client.Submit(context.Background(), rec)
		firstDone <- err
	}()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, client.InFlight())

	_, err := client.Submit(context.Background(), rec)
	assert.ErrorIs(t, err, ErrRequestInFlight)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisRejected))

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, int32(1), hits.Load())

	// Completed: a new submission is accepted again.
	_, err = client.Submit(context.Background(), rec)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSubmitNilRecording(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:1")
	_, err := client.Submit(context.Background(), nil)
	assert.Error(t, err)
	assert.False(t, client.InFlight())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "transport", ErrorKind(&TransportError{StatusCode: 500}))
	assert.Equal(t, "protocol", ErrorKind(&ProtocolError{Reason: "x"}))
	assert.Equal(t, "analysis", ErrorKind(&AnalysisError{Message: "x"}))
	assert.Equal(t, "in_flight", ErrorKind(ErrRequestInFlight))
	assert.Equal(t, "other", ErrorKind(errors.New("x")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "analysis service returned HTTP 500", (&TransportError{StatusCode: 500}).Error())
	assert.Equal(t, "analysis failed: bad audio", (&AnalysisError{Message: "bad audio"}).Error())
	assert.Contains(t, (&ProtocolError{Reason: "missing is_noisy"}).Error(), "missing is_noisy")
}
