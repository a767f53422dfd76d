package fir

import "math"

// MakeComplexBandPass shifts a low pass prototype up to the centre of
// [lowCut, highCut]. Cut frequencies may be negative, which selects the lower
// half of a complex baseband.
func MakeComplexBandPass(gain, sampleRate, lowCut, highCut, transitionWidth float64, winType WindowType) []complex64 {
	proto := MakeLowPass(gain, sampleRate, (highCut-lowCut)/2, transitionWidth, winType)

	// Rotate about the middle tap so the response centre has zero phase.
	omega := math.Pi * (highCut + lowCut) / sampleRate
	mid := float64(len(proto)-1) / 2

	taps := make([]complex64, len(proto))
	for i, h := range proto {
		sin, cos := math.Sincos(omega * (float64(i) - mid))
		taps[i] = complex(h*float32(cos), h*float32(sin))
	}
	return taps
}
