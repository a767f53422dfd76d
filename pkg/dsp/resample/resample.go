// Package resample converts complex sample streams between integer rates.
package resample

import (
	"github.com/norasector/wdsp/pkg/dsp/processor"
	"github.com/racerxdl/segdsp/dsp"
)

// Ratio reduces outRate/inRate to interpolation/decimation factors.
func Ratio(inRate, outRate int) (interpolation, decimation int) {
	g := GCD(inRate, outRate)
	return outRate / g, inRate / g
}

func GCD(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// New returns a block converting inRate to outRate. Equal rates give a
// passthrough copy with no filter delay.
func New(inRate, outRate int) processor.CCWorker {
	if inRate == outRate {
		return passthrough{}
	}
	interpolation, decimation := Ratio(inRate, outRate)
	return dsp.MakeRationalResampler(interpolation, decimation)
}

// IsPassthrough reports whether the worker returned by New copies samples as is.
func IsPassthrough(w processor.CCWorker) bool {
	_, ok := w.(passthrough)
	return ok
}

type passthrough struct{}

func (passthrough) WorkBuffer(input, output []complex64) int {
	return copy(output, input)
}

func (passthrough) PredictOutputSize(inputSize int) int {
	return inputSize
}
