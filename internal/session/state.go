package session

import (
	"errors"
	"fmt"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/capture"
)

// State is the phase of a session.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateCaptured  State = "captured"
	StateAnalyzing State = "analyzing"
	StateAnalyzed  State = "analyzed"
	StateFailed    State = "failed"
)

var (
	// ErrNoAudio is returned by Analyze and Retry when no canonical audio is held.
	ErrNoAudio = errors.New("no recorded audio")
	// ErrInvalidTransition is returned for commands the current state does not accept.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// FailureKind classifies why a session entered StateFailed.
type FailureKind string

const (
	FailurePermissionDenied  FailureKind = "permission_denied"
	FailureDeviceUnavailable FailureKind = "device_unavailable"
	FailureDevice            FailureKind = "device_error"
	FailureDecode            FailureKind = "decode_error"
	FailureTransport         FailureKind = "transport_error"
	FailureProtocol          FailureKind = "protocol_error"
	FailureAnalysis          FailureKind = "analysis_error"
	FailureUnknown           FailureKind = "unknown"
)

// Failure is the error carried by StateFailed.
type Failure struct {
	Kind    FailureKind
	Message string
	// StatusCode is set for transport failures that received a response.
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure classifies err into a Failure.
func NewFailure(err error) *Failure {
	return classify(err, FailureUnknown)
}

func classify(err error, fallback FailureKind) *Failure {
	f := &Failure{Kind: fallback, Message: err.Error(), Err: err}

	var (
		decodeErr    *audio.DecodeError
		transportErr *analysis.TransportError
		protocolErr  *analysis.ProtocolError
		analysisErr  *analysis.AnalysisError
	)
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		f.Kind = FailurePermissionDenied
	case errors.Is(err, capture.ErrDeviceUnavailable):
		f.Kind = FailureDeviceUnavailable
	case errors.As(err, &decodeErr):
		f.Kind = FailureDecode
	case errors.As(err, &transportErr):
		f.Kind = FailureTransport
		f.StatusCode = transportErr.StatusCode
	case errors.As(err, &protocolErr):
		f.Kind = FailureProtocol
	case errors.As(err, &analysisErr):
		f.Kind = FailureAnalysis
		f.Message = analysisErr.Message
	}
	return f
}
