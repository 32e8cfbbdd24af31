package audio

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// RawCapture is a compressed payload as produced by a capture device,
// together with the mime/codec tag that selects its decoder.
type RawCapture struct {
	Data     []byte
	MimeType string
}

// Size returns the payload length in bytes.
func (r *RawCapture) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// CanonicalAudio is an immutable mono 16-bit PCM WAV buffer whose header sizes
// match its payload exactly. A new recording replaces it wholesale.
type CanonicalAudio struct {
	data       []byte
	sampleRate int
	numSamples int
}

// NewCanonicalAudio validates a canonical WAV buffer and takes a private copy of it.
func NewCanonicalAudio(data []byte) (*CanonicalAudio, error) {
	header, err := ParseCanonicalHeader(data)
	if err != nil {
		return nil, fmt.Errorf("not canonical audio: %w", err)
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	return &CanonicalAudio{
		data:       owned,
		sampleRate: int(header.SampleRate),
		numSamples: int(header.Subchunk2Size / CanonicalBlockAlign),
	}, nil
}

// Bytes returns a copy of the WAV buffer.
func (c *CanonicalAudio) Bytes() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// Reader returns a read-only view over the WAV buffer.
func (c *CanonicalAudio) Reader() io.Reader {
	return bytes.NewReader(c.data)
}

// Len returns the total buffer length, header included.
func (c *CanonicalAudio) Len() int { return len(c.data) }

// SampleRate returns the sample rate carried over from the source stream.
func (c *CanonicalAudio) SampleRate() int { return c.sampleRate }

// NumSamples returns the number of 16-bit samples in the data chunk.
func (c *CanonicalAudio) NumSamples() int { return c.numSamples }

// Duration returns the playback length of the audio.
func (c *CanonicalAudio) Duration() time.Duration {
	if c.sampleRate == 0 {
		return 0
	}
	return time.Duration(c.numSamples) * time.Second / time.Duration(c.sampleRate)
}

// Decoded holds per-channel float samples at the stream's native rate.
type Decoded struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the number of samples per channel.
func (d *Decoded) Frames() int {
	if d == nil || len(d.Channels) == 0 {
		return 0
	}
	return len(d.Channels[0])
}

// DecodeError reports a malformed payload or an unsupported codec.
type DecodeError struct {
	MimeType string
	Reason   string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %q: %s", e.MimeType, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }
