package audio

import "math"

// NoiseLevel returns the RMS of 16-bit samples normalized by the largest
// positive sample value, so full-scale noise approaches 1.0 and silence is 0.
func NoiseLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return rms / math.MaxInt16
}
