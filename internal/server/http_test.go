package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/config"
	"github.com/skypro1111/speechcheck/internal/metrics"
)

func newTestServer(t *testing.T) (*HTTPServer, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := config.Default().Stub
	cfg.Transcription = "placeholder"

	h, err := NewHTTPServer(cfg, nil, metrics.NewMetrics(reg), reg)
	require.NoError(t, err)

	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return h, ts
}

func wavBytes(t *testing.T, n int, value int16) []byte {
	t.Helper()
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = value
		} else {
			samples[i] = -value
		}
	}
	data, err := audio.EncodeCanonicalWAV(samples, 16000)
	require.NoError(t, err)
	return data
}

func upload(t *testing.T, url, field, contentType string, payload []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="`+field+`"; filename="recording.wav"`)
	if contentType != "" {
		partHeader.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(partHeader)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(url, writer.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAnalyzeQuietRecording(t *testing.T) {
	h, ts := newTestServer(t)

	resp := upload(t, ts.URL+"/analyze/", "file", "audio/wav", wavBytes(t, 16000, 100))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Good", body["quality_assessment"])
	assert.Equal(t, false, body["is_noisy"])
	assert.Equal(t, "placeholder", body["transcription"])
	_, hasNoise := body["noise_level"]
	assert.False(t, hasNoise, "noise_level is only reported for degraded recordings")

	assert.Equal(t, uint64(1), h.GetStats().Analyses)
}

func TestAnalyzeNoisyRecording(t *testing.T) {
	h, ts := newTestServer(t)

	resp := upload(t, ts.URL+"/analyze", "file", "audio/wav", wavBytes(t, 1600, 30000))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Noisy", body["quality_assessment"])
	assert.Equal(t, true, body["is_noisy"])
	require.Contains(t, body, "noise_level")
	assert.InDelta(t, 30000.0/32767.0, body["noise_level"], 1e-3)

	assert.Equal(t, uint64(1), h.GetStats().Noisy)
}

func TestAnalyzeOctetStreamTreatedAsWAV(t *testing.T) {
	_, ts := newTestServer(t)

	resp := upload(t, ts.URL+"/analyze", "file", "application/octet-stream", wavBytes(t, 160, 10))
	body := decodeBody(t, resp)
	assert.Equal(t, "Good", body["quality_assessment"])
}

func TestAnalyzeUndecodableUploadIsDomainError(t *testing.T) {
	h, ts := newTestServer(t)

	resp := upload(t, ts.URL+"/analyze", "file", "audio/wav", []byte("definitely not audio"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Contains(t, body, "error")
	assert.Contains(t, body["error"], "could not decode audio")
	assert.Equal(t, uint64(1), h.GetStats().DomainErrors)
}

func TestAnalyzeMissingFilePart(t *testing.T) {
	_, ts := newTestServer(t)

	resp := upload(t, ts.URL+"/analyze", "audio", "audio/wav", wavBytes(t, 10, 0))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeRequiresPost(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/analyze")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestClientAgainstService(t *testing.T) {
	_, ts := newTestServer(t)

	client, err := analysis.NewClient(analysis.Config{Endpoint: ts.URL + "/analyze/", Timeout: 5 * time.Second}, nil, nil)
	require.NoError(t, err)

	canonical, err := audio.NewCanonicalAudio(wavBytes(t, 8000, 50))
	require.NoError(t, err)

	result, err := client.Submit(context.Background(), canonical)
	require.NoError(t, err)
	assert.Equal(t, "Good", result.QualityAssessment)
	assert.Equal(t, "placeholder", result.Transcription)
	assert.False(t, result.IsNoisy)
	assert.Nil(t, result.NoiseLevel)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/analyze/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/analyze/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndRoot(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decodeBody(t, resp)["status"])

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	assert.Contains(t, decodeBody(t, resp), "endpoints")

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := upload(t, ts.URL+"/analyze", "file", "audio/wav", wavBytes(t, 160, 10))
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.Contains(text, `speechcheck_service_analyses_total{quality="Good"} 1`), text)
	assert.Contains(t, text, "speechcheck_http_requests_total")
}

func TestStartAndStop(t *testing.T) {
	h, err := NewHTTPServer(config.Default().Stub, nil, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	// Ephemeral port
	h.server.Addr = "127.0.0.1:0"

	require.NoError(t, h.Start())
	resp, err := http.Get("http://" + h.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, h.Stop(ctx))
}
