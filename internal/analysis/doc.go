// Package analysis implements the HTTP client for the remote speech analysis
// service. A recording is uploaded as a single multipart part named "file"
// (filename recording.wav, content type audio/wav) and the JSON reply is
// parsed into a Result.
//
// Failures are split three ways so callers can react differently:
// *TransportError for network failures and non-2xx statuses, *ProtocolError
// for bodies that are not a well-formed result, and *AnalysisError when the
// service itself reports an error. Only one submission may be outstanding per
// Client; overlapping calls get ErrRequestInFlight.
package analysis
