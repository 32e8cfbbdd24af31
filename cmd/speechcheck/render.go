package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/session"
)

var stateLabels = map[session.State]string{
	session.StateIdle:      "Ready",
	session.StateRecording: "Recording",
	session.StateCaptured:  "Recorded",
	session.StateAnalyzing: "Analyzing",
	session.StateAnalyzed:  "Analysis complete",
	session.StateFailed:    "Failed",
}

func renderTransition(w io.Writer, s session.Snapshot) {
	label, ok := stateLabels[s.State]
	if !ok {
		label = string(s.State)
	}
	if s.State == session.StateCaptured && s.Audio != nil {
		fmt.Fprintf(w, "%s (%.1fs, %d bytes)\n", label, s.Audio.Duration().Seconds(), s.Audio.Len())
		return
	}
	fmt.Fprintln(w, label)
}

// renderResult prints a successful analysis. The noise level is only shown
// when the service reported one.
func renderResult(w io.Writer, r *analysis.Result) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Quality Assessment: %s\n", r.QualityAssessment)
	if r.NoiseLevel != nil {
		fmt.Fprintf(w, "Noise Level: %.3f\n", *r.NoiseLevel)
	}
	fmt.Fprintf(w, "Transcription: %s\n", r.Transcription)
}

func renderJSON(w io.Writer, r *analysis.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func renderFailure(w io.Writer, f *session.Failure) {
	if f == nil {
		return
	}

	switch f.Kind {
	case session.FailurePermissionDenied:
		fmt.Fprintf(w, "Microphone access was denied: %s\n", f.Message)
	case session.FailureDeviceUnavailable:
		fmt.Fprintf(w, "No audio input is available: %s\n", f.Message)
	case session.FailureDecode:
		fmt.Fprintf(w, "The recording could not be decoded: %s\n", f.Message)
	case session.FailureTransport:
		if f.StatusCode != 0 {
			fmt.Fprintf(w, "Analysis service error: HTTP %d %s\n", f.StatusCode, http.StatusText(f.StatusCode))
		} else {
			fmt.Fprintf(w, "Could not reach the analysis service: %s\n", f.Message)
		}
	case session.FailureProtocol:
		fmt.Fprintf(w, "Unexpected response from the analysis service: %s\n", f.Message)
	case session.FailureAnalysis:
		fmt.Fprintf(w, "Analysis failed: %s\n", f.Message)
	default:
		fmt.Fprintf(w, "Error: %s\n", f.Message)
	}
}
