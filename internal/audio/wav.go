package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// CanonicalHeaderSize is the size of the RIFF/WAVE header preceding the samples.
	CanonicalHeaderSize = 44
	// CanonicalChannels is fixed: canonical audio is always mono.
	CanonicalChannels = 1
	// CanonicalBitsPerSample is fixed: canonical audio is always signed 16-bit.
	CanonicalBitsPerSample = 16
	// CanonicalBlockAlign is the number of bytes per sample frame.
	CanonicalBlockAlign = CanonicalChannels * CanonicalBitsPerSample / 8

	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// WAVHeader represents the header structure of a canonical WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * BlockAlign
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeCanonicalWAV encodes mono PCM-16 samples into a WAV container.
// An empty sample slice yields a valid 44-byte file with an empty data chunk.
func EncodeCanonicalWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if sampleRate > math.MaxUint32/CanonicalBlockAlign {
		return nil, fmt.Errorf("sample rate %d does not fit a WAV header", sampleRate)
	}

	dataBytes := uint64(len(samples)) * CanonicalBlockAlign
	if dataBytes > math.MaxUint32-36 {
		return nil, fmt.Errorf("audio too long for a WAV container: %d samples", len(samples))
	}
	dataSize := uint32(dataBytes)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   CanonicalChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * CanonicalBlockAlign,
		BlockAlign:    CanonicalBlockAlign,
		BitsPerSample: CanonicalBitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, CanonicalHeaderSize+int(dataSize)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseCanonicalHeader reads the header of a canonical WAV buffer and checks
// every invariant of the format, including that the declared sizes match the
// payload length exactly.
func ParseCanonicalHeader(data []byte) (*WAVHeader, error) {
	if len(data) < CanonicalHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", CanonicalHeaderSize, len(data))
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	case header.Subchunk1Size != 16:
		return nil, fmt.Errorf("unexpected fmt chunk size %d", header.Subchunk1Size)
	case header.AudioFormat != wavFormatPCM:
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	case header.NumChannels != CanonicalChannels:
		return nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	case header.BitsPerSample != CanonicalBitsPerSample:
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	case header.BlockAlign != CanonicalBlockAlign:
		return nil, fmt.Errorf("block align must be %d, got %d", CanonicalBlockAlign, header.BlockAlign)
	case header.SampleRate == 0:
		return nil, fmt.Errorf("invalid sample rate: 0")
	case uint64(header.ByteRate) != uint64(header.SampleRate)*CanonicalBlockAlign:
		return nil, fmt.Errorf("byte rate %d does not match sample rate %d", header.ByteRate, header.SampleRate)
	}

	payload := len(data) - CanonicalHeaderSize
	if int64(header.Subchunk2Size) != int64(payload) {
		return nil, fmt.Errorf("data size %d does not match payload length %d", header.Subchunk2Size, payload)
	}
	if uint64(header.ChunkSize) != 36+uint64(header.Subchunk2Size) {
		return nil, fmt.Errorf("riff size %d does not match 36 + data size %d", header.ChunkSize, header.Subchunk2Size)
	}

	return &header, nil
}

// CanonicalSamples returns the PCM-16 samples held in a canonical WAV buffer.
func CanonicalSamples(data []byte) ([]int16, int, error) {
	header, err := ParseCanonicalHeader(data)
	if err != nil {
		return nil, 0, err
	}

	samples := make([]int16, header.Subchunk2Size/CanonicalBlockAlign)
	if err := binary.Read(bytes.NewReader(data[CanonicalHeaderSize:]), binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(header.SampleRate), nil
}

// wavFormat is the subset of a source "fmt " chunk needed for decoding.
type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	blockAlign    int
	bitsPerSample int
}

// decodeWAV decodes an arbitrary PCM or IEEE float WAV payload into
// per-channel float samples. Streaming writers (arecord, ffmpeg to a pipe)
// leave placeholder sizes in the header, so a data chunk larger than the
// payload is clamped to what is actually present.
func decodeWAV(payload []byte) (*Decoded, error) {
	if len(payload) < 12 {
		return nil, fmt.Errorf("WAV data too short: %d bytes", len(payload))
	}
	if string(payload[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(payload[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		format *wavFormat
		data   []byte
		found  bool
	)

	offset := 12
	for offset+8 <= len(payload) && !found {
		id := string(payload[offset : offset+4])
		size := int64(binary.LittleEndian.Uint32(payload[offset+4 : offset+8]))
		body := offset + 8
		end := int64(body) + size
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}

		switch id {
		case "fmt ":
			f, err := parseWAVFormat(payload[body:end])
			if err != nil {
				return nil, err
			}
			format = f
		case "data":
			if format == nil {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			data = payload[body:end]
			found = true
		}

		next := end
		if size%2 == 1 {
			next++
		}
		offset = int(next)
	}

	if format == nil {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if !found {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	frames := len(data) / format.blockAlign
	bytesPerSample := format.bitsPerSample / 8
	channels := make([][]float32, format.channels)
	for ch := range channels {
		channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		frame := data[i*format.blockAlign:]
		for ch := 0; ch < format.channels; ch++ {
			channels[ch][i] = wavSampleToFloat(frame[ch*bytesPerSample:(ch+1)*bytesPerSample], format)
		}
	}

	return &Decoded{Channels: channels, SampleRate: format.sampleRate}, nil
}

func parseWAVFormat(body []byte) (*wavFormat, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", len(body))
	}

	f := &wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
		channels:      int(binary.LittleEndian.Uint16(body[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
		blockAlign:    int(binary.LittleEndian.Uint16(body[12:14])),
		bitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
	}

	// WAVE_FORMAT_EXTENSIBLE carries the real format in the first two bytes
	// of the sub-format GUID.
	if f.audioFormat == wavFormatExtensible {
		if len(body) < 26 {
			return nil, fmt.Errorf("invalid WAV file: extensible fmt chunk too short")
		}
		f.audioFormat = binary.LittleEndian.Uint16(body[24:26])
	}

	if f.channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", f.channels)
	}
	if f.sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", f.sampleRate)
	}

	switch f.audioFormat {
	case wavFormatPCM:
		switch f.bitsPerSample {
		case 8, 16, 24, 32:
		default:
			return nil, fmt.Errorf("unsupported PCM bit depth: %d", f.bitsPerSample)
		}
	case wavFormatIEEEFloat:
		if f.bitsPerSample != 32 && f.bitsPerSample != 64 {
			return nil, fmt.Errorf("unsupported float bit depth: %d", f.bitsPerSample)
		}
	default:
		return nil, fmt.Errorf("unsupported audio format: %d", f.audioFormat)
	}

	if f.blockAlign < f.channels*f.bitsPerSample/8 {
		return nil, fmt.Errorf("block align %d too small for %d channels of %d bits",
			f.blockAlign, f.channels, f.bitsPerSample)
	}

	return f, nil
}

func wavSampleToFloat(b []byte, f *wavFormat) float32 {
	if f.audioFormat == wavFormatIEEEFloat {
		if f.bitsPerSample == 64 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch f.bitsPerSample {
	case 8:
		// 8-bit WAV is unsigned with a 128 midpoint
		return float32(int(b[0])-128) / 128
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float32(v) / 8388608
	default:
		return float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
	}
}
