package viz

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"

	"github.com/norasector/wdsp/pkg/dsp/filters/fir"
	"github.com/norasector/wdsp/pkg/wisdom"
)

// Exponential averaging weights for bin power and the balance readout.
const (
	powerMix   = 0.10
	balanceMix = 0.05
)

// FFTPlotter keeps the most recent n complex samples of a stream and plots
// their averaged power spectrum.
type FFTPlotter struct {
	name       string
	n          int
	sampleRate int
	window     []float32

	mu      sync.Mutex
	samples []complex64
	power   []float64
	balance float64
	options []PlotOptions
	showBal bool
}

func NewFFTPlotterComplex(name string, n, sampleRate int) *FFTPlotter {
	return &FFTPlotter{
		name:       name,
		n:          n,
		sampleRate: sampleRate,
		window:     fir.BlackmanWindow(n),
		samples:    make([]complex64, n),
		power:      make([]float64, n),
	}
}

func (f *FFTPlotter) Name() string {
	return f.name
}

// ShowBalance adds the power difference between positive and negative
// frequencies to the title.
func (f *FFTPlotter) ShowBalance(show bool) {
	f.mu.Lock()
	f.showBal = show
	f.mu.Unlock()
}

func (f *FFTPlotter) AddPlotOption(opt PlotOptions) {
	f.mu.Lock()
	f.options = append(f.options, opt)
	f.mu.Unlock()
}

func (f *FFTPlotter) AppendComplex(s []complex64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(s) >= f.n {
		copy(f.samples, s[len(s)-f.n:])
		return
	}
	copy(f.samples, f.samples[len(s):])
	copy(f.samples[f.n-len(s):], s)
}

// Spectrum returns bin frequencies in ascending order with their averaged
// magnitudes.
func (f *FFTPlotter) Spectrum() (freqs, power []float64) {
	// 0.42 is the Blackman window's coherent gain.
	norm := complex(0.42*float64(f.n), 0)

	f.mu.Lock()
	defer f.mu.Unlock()

	data := make([]complex128, f.n)
	for i, s := range f.samples {
		data[i] = complex128(s) * complex(float64(f.window[i]), 0) / norm
	}

	plan := wisdom.Default().Cmplx(f.n)
	defer wisdom.Default().PutCmplx(plan)
	coeffs := plan.Coefficients(nil, data)

	freqs = make([]float64, f.n)
	power = make([]float64, f.n)
	var sum float64
	for i := range coeffs {
		bin := plan.ShiftIdx(i)
		freqs[i] = plan.Freq(bin) * float64(f.sampleRate)
		f.power[i] = (1-powerMix)*f.power[i] + powerMix*cmplx.Abs(coeffs[bin])
		power[i] = f.power[i]

		if power[i] > 1e-5 {
			switch {
			case freqs[i] > 0:
				sum += power[i]
			case freqs[i] < 0:
				sum -= power[i]
			}
		}
	}
	f.balance = (1-balanceMix)*f.balance + balanceMix*sum
	return freqs, power
}

func (f *FFTPlotter) GetImage() *ImageContainer {
	freqs, power := f.Spectrum()

	xys := make(plotter.XYs, 0, len(freqs))
	for i, p := range power {
		if p > 0 {
			xys = append(xys, plotter.XY{X: freqs[i], Y: 20 * math.Log10(p)})
		}
	}
	if len(xys) == 0 {
		return nil
	}

	p := plotWithDefaults()
	p.Title.Text = f.name
	p.X.Label.Text = "Frequency"
	p.Y.Label.Text = "Power (dB)"
	p.Y.Min, p.Y.Max = -100, 0

	f.mu.Lock()
	if f.showBal {
		p.Title.Text += fmt.Sprintf(" Balance: %3.0f", math.Abs(f.balance*1000))
	}
	for _, opt := range f.options {
		opt(p)
	}
	f.mu.Unlock()

	p.Add(plotter.NewGrid())
	if err := plotutil.AddLines(p, "frequency", xys); err != nil {
		return nil
	}
	return render(f.name, p)
}
