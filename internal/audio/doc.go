// Package audio converts captured audio into the canonical representation sent
// for analysis: mono, signed 16-bit little-endian PCM in a 44-byte-header WAV
// container. It holds the decoder registry (WAV, Ogg/Opus, G.711), the named
// downmix and quantization policies, and the canonical WAV encoder and parser.
package audio
