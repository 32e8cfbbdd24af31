// Package server implements the local reference analysis service and the
// standalone metrics endpoint.
//
// The analysis service accepts POST /analyze with a multipart "file" part,
// normalizes the upload to canonical audio, grades it by RMS noise level and
// answers with the same JSON document the client parses. It also serves
// /health, /stats and /metrics, with CORS for the configured browser origins.
package server
