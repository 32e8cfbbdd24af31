package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/config"
	"github.com/skypro1111/speechcheck/internal/server"
	"github.com/skypro1111/speechcheck/internal/session"
)

func writeRecording(t *testing.T, n int) string {
	t.Helper()
	data, err := audio.EncodeCanonicalWAV(make([]int16, n), 16000)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "take.wav")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	root := newRootCmd()
	root.SetArgs(append([]string{"--env-file=" + filepath.Join(t.TempDir(), "none.env")}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func startStub(t *testing.T) string {
	t.Helper()
	cfg := config.Default().Stub
	cfg.Transcription = "hello"

	h, err := server.NewHTTPServer(cfg, nil, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/analyze/"
}

func TestAnalyzeCommand(t *testing.T) {
	t.Setenv(config.EnvAnalysisEndpoint, startStub(t))
	t.Setenv(config.EnvLogLevel, "error")

	stdout, stderr, err := execute(t, "analyze", writeRecording(t, 16000))
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "Quality Assessment: Good")
	assert.Contains(t, stdout, "Transcription: hello")
	assert.NotContains(t, stdout, "Noise Level")
	assert.Contains(t, stderr, "Recorded (1.0s, 32044 bytes)")
}

func TestAnalyzeCommandRetriesTransportFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quality_assessment":"Noisy","noise_level":0.61234,"transcription":"hi","is_noisy":true}`))
	}))
	defer ts.Close()

	t.Setenv(config.EnvAnalysisEndpoint, ts.URL)
	t.Setenv(config.EnvLogLevel, "error")

	stdout, stderr, err := execute(t, "analyze", "--retries", "1", writeRecording(t, 800))
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, stderr, "HTTP 502 Bad Gateway")
	assert.Contains(t, stdout, "Quality Assessment: Noisy")
	assert.Contains(t, stdout, "Noise Level: 0.612")
}

func TestAnalyzeCommandReportsDomainError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model unavailable"}`))
	}))
	defer ts.Close()

	t.Setenv(config.EnvAnalysisEndpoint, ts.URL)
	t.Setenv(config.EnvLogLevel, "error")

	_, stderr, err := execute(t, "analyze", "--retries", "3", writeRecording(t, 800))
	require.Error(t, err)

	var failure *session.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, session.FailureAnalysis, failure.Kind)
	assert.Contains(t, stderr, "Analysis failed: model unavailable")
}

func TestAnalyzeCommandMissingFile(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "error")

	_, stderr, err := execute(t, "analyze", filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.Contains(t, stderr, "No audio input is available")
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, serviceName+" "+serviceVersion+"\n", stdout)
}

func TestRenderResult(t *testing.T) {
	noise := 0.5004
	tests := []struct {
		name   string
		result *analysis.Result
		want   string
	}{
		{
			name:   "clean",
			result: &analysis.Result{QualityAssessment: "Good", Transcription: "hello"},
			want:   "Quality Assessment: Good\nTranscription: hello\n",
		},
		{
			name:   "noisy",
			result: &analysis.Result{QualityAssessment: "Noisy", NoiseLevel: &noise, Transcription: "", IsNoisy: true},
			want:   "Quality Assessment: Noisy\nNoise Level: 0.500\nTranscription: \n",
		},
		{
			name: "nil",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			renderResult(&buf, tt.result)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestRenderFailure(t *testing.T) {
	tests := []struct {
		failure *session.Failure
		want    string
	}{
		{&session.Failure{Kind: session.FailurePermissionDenied, Message: "denied"}, "Microphone access was denied"},
		{&session.Failure{Kind: session.FailureTransport, StatusCode: 500}, "HTTP 500 Internal Server Error"},
		{&session.Failure{Kind: session.FailureTransport, Message: "connection refused"}, "Could not reach the analysis service"},
		{&session.Failure{Kind: session.FailureProtocol, Message: "invalid JSON"}, "Unexpected response"},
		{&session.Failure{Kind: session.FailureUnknown, Message: "boom"}, "Error: boom"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		renderFailure(&buf, tt.failure)
		assert.Contains(t, buf.String(), tt.want)
	}
}
