package analysis

import (
	"errors"
	"fmt"
)

// ErrRequestInFlight is returned by Submit while a previous submission has not
// completed. The rejected call issues no request.
var ErrRequestInFlight = errors.New("analysis request already in flight")

// maxErrorBody bounds how much of a response body is kept on errors.
const maxErrorBody = 512

// TransportError is a network failure or a non-2xx response.
// StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis service returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a 2xx response whose body is not a well-formed result.
type ProtocolError struct {
	Reason string
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed analysis response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed analysis response: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AnalysisError is a well-formed response in which the service reports that
// it could not analyze the recording.
type AnalysisError struct {
	Message string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %s", e.Message)
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
