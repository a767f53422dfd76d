// Package mixer shifts complex baseband in frequency.
package mixer

import "math"

const tau = 2 * math.Pi

// WaveformMixer multiplies samples by exp(j*phase), with the phase advancing
// frequency/sampleRate turns per sample. The phase carries across calls.
type WaveformMixer struct {
	step  float64
	phase float64
}

func NewWaveformMixer(sampleRate int, frequency float64) *WaveformMixer {
	return &WaveformMixer{step: tau * frequency / float64(sampleRate)}
}

func (w *WaveformMixer) WorkBuffer(input, output []complex64) int {
	for i, s := range input {
		sin, cos := math.Sincos(w.phase)
		output[i] = s * complex(float32(cos), float32(sin))

		w.phase = math.Mod(w.phase+w.step, tau)
	}
	return len(input)
}

// Work is WorkBuffer into a new slice.
func (w *WaveformMixer) Work(input []complex64) []complex64 {
	out := make([]complex64, len(input))
	w.WorkBuffer(input, out)
	return out
}

func (w *WaveformMixer) PredictOutputSize(inputSize int) int {
	return inputSize
}
