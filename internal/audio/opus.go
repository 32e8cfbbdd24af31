package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/hraban/opus.v2"
)

const (
	// opusfile always decodes at 48 kHz regardless of the input rate hint.
	opusSampleRate = 48000
	// 120 ms is the longest Opus frame.
	opusMaxFrame = opusSampleRate * 120 / 1000
)

var opusHeadMagic = []byte("OpusHead")

// decodeOggOpus decodes an Ogg-encapsulated Opus stream (MediaRecorder's
// "audio/ogg; codecs=opus") via libopusfile.
func decodeOggOpus(payload []byte, _ map[string]string) (*Decoded, error) {
	channels, err := opusChannelCount(payload)
	if err != nil {
		return nil, err
	}

	stream, err := opus.NewStream(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	out := make([][]float32, channels)
	pcm := make([]float32, opusMaxFrame*channels)
	for {
		n, err := stream.ReadFloat32(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode opus stream: %w", err)
		}

		// n is samples per channel; pcm is interleaved
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				out[ch] = append(out[ch], pcm[i*channels+ch])
			}
		}
	}

	return &Decoded{Channels: out, SampleRate: opusSampleRate}, nil
}

// opusChannelCount reads the output channel count from the OpusHead
// identification header: magic(8) version(1) channels(1).
func opusChannelCount(payload []byte) (int, error) {
	idx := bytes.Index(payload, opusHeadMagic)
	if idx < 0 || idx+10 > len(payload) {
		return 0, fmt.Errorf("missing OpusHead identification header")
	}
	channels := int(payload[idx+9])
	if channels < 1 {
		return 0, fmt.Errorf("invalid opus channel count %d", channels)
	}
	return channels, nil
}
