package fir

import "math"

// MakeLowPass designs a windowed-sinc low pass normalized to the given DC gain.
func MakeLowPass(gain, sampleRate, cutFrequency, transitionWidth float64, winType WindowType) []float32 {
	ntaps := computeNTaps(sampleRate, transitionWidth, winType)
	window := Window(winType, ntaps)
	omega := 2 * math.Pi * cutFrequency / sampleRate
	mid := (ntaps - 1) / 2

	ideal := make([]float64, ntaps)
	var dc float64
	for i := range ideal {
		n := float64(i - mid)
		h := omega / math.Pi
		if n != 0 {
			h = math.Sin(n*omega) / (n * math.Pi)
		}
		ideal[i] = h * float64(window[i])
		dc += ideal[i]
	}

	taps := make([]float32, ntaps)
	for i, h := range ideal {
		taps[i] = float32(h * gain / dc)
	}
	return taps
}
