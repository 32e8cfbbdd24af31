package audio

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// G.711 telephony audio is 8 kHz unless the mime tag says otherwise.
const g711DefaultRate = 8000

func decodeULaw(payload []byte, params map[string]string) (*Decoded, error) {
	return decodeG711(g711.DecodeUlaw(payload), params)
}

func decodeALaw(payload []byte, params map[string]string) (*Decoded, error) {
	return decodeG711(g711.DecodeAlaw(payload), params)
}

// decodeG711 converts the 16-bit little-endian output of the g711 expanders
// into a single float channel.
func decodeG711(lpcm []byte, params map[string]string) (*Decoded, error) {
	rate, err := rateParam(params, g711DefaultRate)
	if err != nil {
		return nil, err
	}

	samples := make([]float32, len(lpcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(lpcm[i*2:]))) / 32768
	}

	return &Decoded{Channels: [][]float32{samples}, SampleRate: rate}, nil
}
