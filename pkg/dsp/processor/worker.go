package processor

import "github.com/norasector/wdsp/pkg/dsp/viz"

// CCWorker is a complex in, complex out block. WorkBuffer writes to output and
// returns the sample count; PredictOutputSize bounds it for a given input.
type CCWorker interface {
	WorkBuffer(input, output []complex64) int
	PredictOutputSize(inputSize int) int
}

// DSPWorker places a CCWorker in a Processor chain.
type DSPWorker struct {
	Name        string
	DisplayName string
	InputRate   int
	OutputRate  int

	worker CCWorker
	out    []complex64

	plot plotSettings
	fft  *viz.FFTPlotter
}

type plotSettings struct {
	length  int
	balance bool
	options []viz.PlotOptions
}

type DSPWorkerOption func(w *DSPWorker)

// WithVizLength sets the FFT length of the block's spectrum plot.
func WithVizLength(length int) DSPWorkerOption {
	return func(w *DSPWorker) {
		w.plot.length = length
	}
}

// ShowFFTBalance puts the negative/positive frequency power balance in the plot title.
func ShowFFTBalance() DSPWorkerOption {
	return func(w *DSPWorker) {
		w.plot.balance = true
	}
}

func WithPlotOptions(opts ...viz.PlotOptions) DSPWorkerOption {
	return func(w *DSPWorker) {
		w.plot.options = append(w.plot.options, opts...)
	}
}

func NewDSPWorker(name, displayName string, inputRate, outputRate int, worker CCWorker, opts ...DSPWorkerOption) *DSPWorker {
	w := &DSPWorker{
		Name:        name,
		DisplayName: displayName,
		InputRate:   inputRate,
		OutputRate:  outputRate,
		worker:      worker,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *DSPWorker) Worker() CCWorker {
	return w.worker
}

// work runs the block on in. The result aliases the block's own buffer.
func (w *DSPWorker) work(in []complex64) []complex64 {
	if need := w.worker.PredictOutputSize(len(in)) * 2; len(w.out) < need {
		w.out = make([]complex64, need)
	}
	out := w.out[:w.worker.WorkBuffer(in, w.out)]
	if w.fft != nil && len(out) > 0 {
		w.fft.AppendComplex(out)
	}
	return out
}
