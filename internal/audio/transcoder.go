package audio

import (
	"fmt"
	"log/slog"
	"math"
)

// DownmixPolicy names how multi-channel input is reduced to one channel.
type DownmixPolicy string

const (
	// DownmixFirstChannel keeps channel 0 and discards every other channel.
	// This is a deliberate fidelity reduction and the default.
	DownmixFirstChannel DownmixPolicy = "first_channel"
	// DownmixAverage averages all channels sample by sample.
	DownmixAverage DownmixPolicy = "average"
)

// QuantizationPolicy names how a float sample becomes a 16-bit integer.
type QuantizationPolicy string

const (
	// QuantizeTruncate scales asymmetrically and truncates toward zero.
	// It is the default and is reproduced bit for bit.
	QuantizeTruncate QuantizationPolicy = "truncate"
	// QuantizeRound scales asymmetrically and rounds half away from zero.
	QuantizeRound QuantizationPolicy = "round"
)

const (
	// NegativeScale maps -1.0 onto math.MinInt16.
	NegativeScale = 32768
	// PositiveScale maps 1.0 onto math.MaxInt16; one positive level is lost.
	PositiveScale = 32767
)

// TranscoderConfig selects the policies applied by a Transcoder.
type TranscoderConfig struct {
	Downmix      DownmixPolicy
	Quantization QuantizationPolicy
}

// DefaultTranscoderConfig returns the documented channel-0, truncating policies.
func DefaultTranscoderConfig() TranscoderConfig {
	return TranscoderConfig{
		Downmix:      DownmixFirstChannel,
		Quantization: QuantizeTruncate,
	}
}

// Validate checks that both policies are known.
func (c TranscoderConfig) Validate() error {
	switch c.Downmix {
	case DownmixFirstChannel, DownmixAverage:
	default:
		return fmt.Errorf("unknown downmix policy %q", c.Downmix)
	}
	switch c.Quantization {
	case QuantizeTruncate, QuantizeRound:
	default:
		return fmt.Errorf("unknown quantization policy %q", c.Quantization)
	}
	return nil
}

// Transcoder turns a RawCapture into CanonicalAudio.
type Transcoder struct {
	config   TranscoderConfig
	decoders *DecoderRegistry
	logger   *slog.Logger
}

// NewTranscoder creates a transcoder. A nil registry selects DefaultDecoders.
func NewTranscoder(config TranscoderConfig, decoders *DecoderRegistry, logger *slog.Logger) (*Transcoder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if decoders == nil {
		decoders = DefaultDecoders()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Transcoder{
		config:   config,
		decoders: decoders,
		logger:   logger,
	}, nil
}

// Encode decodes the raw payload, downmixes, quantizes and wraps the result in
// a canonical WAV container. Decoding failures are returned as *DecodeError.
func (t *Transcoder) Encode(raw *RawCapture) (*CanonicalAudio, error) {
	if raw == nil {
		return nil, &DecodeError{Reason: "no capture to decode"}
	}

	decoder, params, err := t.decoders.Lookup(raw.MimeType)
	if err != nil {
		return nil, &DecodeError{MimeType: raw.MimeType, Reason: "unsupported codec", Err: err}
	}

	decoded, err := decoder.Decode(raw.Data, params)
	if err != nil {
		return nil, &DecodeError{MimeType: raw.MimeType, Reason: "malformed payload", Err: err}
	}
	if len(decoded.Channels) == 0 {
		return nil, &DecodeError{MimeType: raw.MimeType, Reason: "decoder produced no channels"}
	}

	t.logger.Debug("Capture decoded",
		slog.String("mime_type", raw.MimeType),
		slog.Int("payload_bytes", len(raw.Data)),
		slog.Int("channels", len(decoded.Channels)),
		slog.Int("frames", decoded.Frames()),
		slog.Int("sample_rate", decoded.SampleRate),
	)

	canonical, err := t.EncodeSamples(decoded.Channels, decoded.SampleRate)
	if err != nil {
		return nil, &DecodeError{MimeType: raw.MimeType, Reason: "cannot encode decoded samples", Err: err}
	}
	return canonical, nil
}

// EncodeSamples applies the configured downmix and quantization policies to
// per-channel float samples and emits canonical audio.
func (t *Transcoder) EncodeSamples(channels [][]float32, sampleRate int) (*CanonicalAudio, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	mono := Downmix(channels, t.config.Downmix)

	samples := make([]int16, len(mono))
	for i, s := range mono {
		samples[i] = Quantize(s, t.config.Quantization)
	}

	data, err := EncodeCanonicalWAV(samples, sampleRate)
	if err != nil {
		return nil, err
	}

	return &CanonicalAudio{
		data:       data,
		sampleRate: sampleRate,
		numSamples: len(samples),
	}, nil
}

// Downmix reduces channels to a single channel according to policy.
func Downmix(channels [][]float32, policy DownmixPolicy) []float32 {
	if len(channels) == 0 {
		return nil
	}
	if policy != DownmixAverage || len(channels) == 1 {
		return channels[0]
	}

	// Channels shorter than channel 0 contribute silence for missing frames.
	out := make([]float32, len(channels[0]))
	for i := range out {
		var sum float64
		for _, ch := range channels {
			if i < len(ch) {
				sum += float64(ch[i])
			}
		}
		out[i] = float32(sum / float64(len(channels)))
	}
	return out
}

// Quantize maps a float sample to a signed 16-bit integer. The sample is
// clamped to [-1, 1]; negatives scale by NegativeScale, the rest by
// PositiveScale. NaN maps to 0.
func Quantize(s float32, policy QuantizationPolicy) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))

	if v < 0 {
		v *= NegativeScale
	} else {
		v *= PositiveScale
	}

	if policy == QuantizeRound {
		v = math.Round(v)
	}
	return int16(v)
}
