package audio

import (
	"fmt"
	"mime"
	"strconv"
	"strings"
	"sync"
)

// Decoder turns a compressed payload into per-channel float samples.
// params carries the media type parameters of the capture's mime tag.
type Decoder interface {
	Decode(payload []byte, params map[string]string) (*Decoded, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(payload []byte, params map[string]string) (*Decoded, error)

// Decode calls f.
func (f DecoderFunc) Decode(payload []byte, params map[string]string) (*Decoded, error) {
	return f(payload, params)
}

// DecoderRegistry maps media types to decoders.
type DecoderRegistry struct {
	decoders map[string]Decoder
	mu       sync.RWMutex
}

// NewDecoderRegistry creates an empty registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[string]Decoder)}
}

// DefaultDecoders returns a registry with WAV, Ogg/Opus, WebM/Opus and G.711 support.
func DefaultDecoders() *DecoderRegistry {
	r := NewDecoderRegistry()

	wav := DecoderFunc(func(payload []byte, _ map[string]string) (*Decoded, error) {
		return decodeWAV(payload)
	})
	for _, t := range []string{"audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave"} {
		r.Register(t, wav)
	}

	r.Register("audio/ogg", DecoderFunc(decodeOggOpus))
	r.Register("audio/opus", DecoderFunc(decodeOggOpus))
	r.Register("audio/webm", DecoderFunc(decodeWebMOpus))

	r.Register("audio/basic", DecoderFunc(decodeULaw))
	r.Register("audio/pcmu", DecoderFunc(decodeULaw))
	r.Register("audio/pcma", DecoderFunc(decodeALaw))

	return r
}

// Register binds a media type (without parameters) to a decoder.
func (r *DecoderRegistry) Register(mediaType string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[strings.ToLower(mediaType)] = d
}

// Lookup parses a mime tag such as "audio/ogg; codecs=opus" and returns the
// decoder registered for its media type along with its parameters.
func (r *DecoderRegistry) Lookup(tag string) (Decoder, map[string]string, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, nil, fmt.Errorf("capture has no mime type")
	}

	mediaType, params, err := mime.ParseMediaType(tag)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid mime type %q: %w", tag, err)
	}

	r.mu.RLock()
	d, ok := r.decoders[mediaType]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no decoder registered for %s", mediaType)
	}

	if codecs, ok := params["codecs"]; ok && (mediaType == "audio/ogg" || mediaType == "audio/webm") && !strings.EqualFold(codecs, "opus") {
		return nil, nil, fmt.Errorf("unsupported %s codec %q", strings.TrimPrefix(mediaType, "audio/"), codecs)
	}

	return d, params, nil
}

// rateParam reads the "rate" media type parameter, falling back to def.
func rateParam(params map[string]string, def int) (int, error) {
	raw, ok := params["rate"]
	if !ok {
		return def, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("invalid rate parameter %q", raw)
	}
	return rate, nil
}
